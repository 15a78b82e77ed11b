// Package remote manages the lifecycle of the execution listener on the
// actuator host over a remote-shell transport.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnreachable means a shell command could not be completed at all
	// (connection failure or timeout). Distinct from a command that ran
	// and reported a non-zero exit: "confirmed not running" is a valid
	// probe outcome, unreachable is not.
	ErrUnreachable = errors.New("remote shell unreachable")

	// ErrStartFailed means the listener could not be confirmed running
	// after the start command and all probe retries.
	ErrStartFailed = errors.New("remote listener start failed")
)

// ExitError carries the exit code and output of a remote command that ran
// to completion but failed.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.Code, e.Output)
}

// ShellTransport executes one command on the remote host and returns its
// combined output. Implementations must bound execution time; a timed-out
// or unconnectable run returns ErrUnreachable, a completed-but-failed run
// returns *ExitError.
type ShellTransport interface {
	Run(ctx context.Context, command string) (string, error)
}

// SSHTransport runs commands through the system ssh binary, optionally via
// sshpass when password auth is configured. Passwords are tried in order;
// the first one that authenticates is remembered for subsequent commands.
type SSHTransport struct {
	Host       string
	User       string
	Port       int
	Passwords  []string
	CmdTimeout time.Duration

	log        *zap.Logger
	goodPasswd string
}

// NewSSHTransport builds a transport for user@host:port. A nil logger is
// replaced with a no-op one.
func NewSSHTransport(host, user string, port int, passwords []string, timeout time.Duration, log *zap.Logger) *SSHTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SSHTransport{
		Host:       host,
		User:       user,
		Port:       port,
		Passwords:  passwords,
		CmdTimeout: timeout,
		log:        log,
	}
}

// Run executes command on the remote host with the bounded command timeout.
func (t *SSHTransport) Run(ctx context.Context, command string) (string, error) {
	passwords := t.Passwords
	if t.goodPasswd != "" {
		passwords = []string{t.goodPasswd}
	}
	if len(passwords) == 0 {
		passwords = []string{""} // key-based auth, no sshpass wrapper
	}

	var lastErr error
	for _, pw := range passwords {
		out, err := t.runOnce(ctx, command, pw)
		if err == nil {
			if pw != "" {
				t.goodPasswd = pw
			}
			return out, nil
		}
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code != 255 {
			// 255 is ssh's own failure code (auth, connection); any
			// other exit came from the remote command itself and is
			// a definitive answer, not an auth problem.
			if pw != "" {
				t.goodPasswd = pw
			}
			return out, err
		}
		lastErr = err
	}
	return "", lastErr
}

// argv builds the ssh invocation. With a password the command is wrapped
// in sshpass; without one ssh runs in BatchMode so a key failure errors
// out instead of prompting.
func (t *SSHTransport) argv(command, password string) (string, []string) {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "ConnectTimeout=5",
		"-p", strconv.Itoa(t.Port),
		fmt.Sprintf("%s@%s", t.User, t.Host),
		command,
	}
	if password != "" {
		return "sshpass", append([]string{"-p", password, "ssh"}, args...)
	}
	return "ssh", append([]string{"-o", "BatchMode=yes"}, args...)
}

func (t *SSHTransport) runOnce(ctx context.Context, command, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.CmdTimeout)
	defer cancel()

	bin, args := t.argv(command, password)
	cmd := exec.CommandContext(ctx, bin, args...)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return string(output), nil
	}

	if ctx.Err() != nil {
		t.log.Debug("remote command timed out",
			zap.String("command", command),
			zap.Duration("timeout", t.CmdTimeout))
		return "", fmt.Errorf("%w: command timed out after %s", ErrUnreachable, t.CmdTimeout)
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return string(output), &ExitError{Code: ee.ExitCode(), Output: string(output)}
	}
	// ssh/sshpass binary missing or unrunnable.
	return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
}
