package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// liveness is the last-known state of the remote listener. It starts
// unknown and is only ever set from an actual probe result; stale values
// are never trusted as current.
type liveness int

const (
	livenessUnknown liveness = iota
	livenessRunning
	livenessStopped
)

// ControllerConfig bounds the start/stop behavior.
type ControllerConfig struct {
	// ProcessPattern is the pgrep/pkill -f pattern identifying the
	// listener invocation on the remote host.
	ProcessPattern string
	// StartCommand launches the listener detached from the shell
	// session (nohup ... &).
	StartCommand string
	// StartRetries and StartBackoff bound the post-start probe loop.
	StartRetries int
	StartBackoff time.Duration
}

// DefaultControllerConfig returns the bounds used by the forwarder CLI for
// a listener deployed at the conventional path.
func DefaultControllerConfig(binPath string) ControllerConfig {
	return ControllerConfig{
		ProcessPattern: binPath,
		StartCommand:   fmt.Sprintf("nohup %s > /tmp/dogbridge-listener.log 2>&1 &", binPath),
		StartRetries:   8,
		StartBackoff:   500 * time.Millisecond,
	}
}

// Controller guarantees the remote listener is running before dispatch and
// stopped on shutdown. Both directions are idempotent. Only the forwarding
// loop calls into the controller, so no locking is required beyond
// single-ownership.
type Controller struct {
	transport ShellTransport
	cfg       ControllerConfig
	log       *zap.Logger

	// httpHealth, when set, is consulted as a fallback liveness signal:
	// a process match can be missing right after a nohup start while the
	// HTTP service is already answering.
	httpHealth func(ctx context.Context) error

	state liveness
}

// NewController builds a controller over the given transport. healthProbe
// may be nil.
func NewController(t ShellTransport, cfg ControllerConfig, healthProbe func(ctx context.Context) error, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StartRetries <= 0 {
		cfg.StartRetries = 8
	}
	if cfg.StartBackoff <= 0 {
		cfg.StartBackoff = 500 * time.Millisecond
	}
	return &Controller{transport: t, cfg: cfg, httpHealth: healthProbe, log: log}
}

// probe actively re-derives liveness. Returns ErrUnreachable when the
// shell transport cannot answer; a pgrep miss is a confirmed "not running".
func (c *Controller) probe(ctx context.Context) (bool, error) {
	out, err := c.transport.Run(ctx, fmt.Sprintf("pgrep -f %q", c.cfg.ProcessPattern))
	if err == nil {
		running := strings.TrimSpace(out) != ""
		c.setState(running)
		return running, nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == 1 {
		// pgrep exit 1: no processes matched.
		c.setState(false)
		return false, nil
	}
	if errors.Is(err, ErrUnreachable) {
		c.state = livenessUnknown
		return false, err
	}
	c.state = livenessUnknown
	return false, fmt.Errorf("%w: probe failed: %v", ErrUnreachable, err)
}

func (c *Controller) setState(running bool) {
	if running {
		c.state = livenessRunning
	} else {
		c.state = livenessStopped
	}
}

// EnsureStarted probes the listener and starts it when absent, re-probing
// with fixed backoff until liveness is confirmed or retries are exhausted.
// Calling it again while the listener runs issues no start command.
func (c *Controller) EnsureStarted(ctx context.Context) error {
	running, err := c.probe(ctx)
	if err != nil {
		return fmt.Errorf("%w: initial probe: %v", ErrStartFailed, err)
	}
	if running {
		c.log.Info("remote listener already running")
		return nil
	}

	c.log.Info("starting remote listener", zap.String("command", c.cfg.StartCommand))
	// A backgrounded nohup start can report an unreliable exit status;
	// success is judged by the probe loop below, not by this command.
	if _, err := c.transport.Run(ctx, c.cfg.StartCommand); err != nil && errors.Is(err, ErrUnreachable) {
		return fmt.Errorf("%w: start command: %v", ErrStartFailed, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.StartRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStartFailed, ctx.Err())
		case <-time.After(c.cfg.StartBackoff):
		}

		running, err := c.probe(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if running {
			c.log.Info("remote listener confirmed running", zap.Int("attempt", attempt))
			return nil
		}
		if c.httpHealth != nil {
			if err := c.httpHealth(ctx); err == nil {
				c.log.Info("remote listener answering health checks", zap.Int("attempt", attempt))
				c.setState(true)
				return nil
			} else {
				lastErr = err
			}
		} else {
			lastErr = errors.New("process not found after start")
		}
	}
	return fmt.Errorf("%w: not confirmed after %d attempts: %v", ErrStartFailed, c.cfg.StartRetries, lastErr)
}

// EnsureStopped stops the listener if a probe reports it running. Failures
// are logged, never returned: shutdown must not hang or abort on a
// remote-shell failure.
func (c *Controller) EnsureStopped(ctx context.Context) {
	running, err := c.probe(ctx)
	if err != nil {
		c.log.Warn("stop skipped, remote unreachable", zap.Error(err))
		return
	}
	if !running {
		c.log.Info("remote listener already stopped")
		return
	}

	if _, err := c.transport.Run(ctx, fmt.Sprintf("pkill -f %q", c.cfg.ProcessPattern)); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			// Raced to exit on its own.
			c.setState(false)
			return
		}
		c.log.Warn("remote stop command failed", zap.Error(err))
		c.state = livenessUnknown
		return
	}
	c.log.Info("remote listener stopped")
	c.setState(false)
}
