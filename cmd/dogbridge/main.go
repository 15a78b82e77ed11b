package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dogbridge/internal/config"
	"dogbridge/internal/dispatch"
	"dogbridge/internal/forward"
	"dogbridge/internal/ollama"
	"dogbridge/internal/proxy"
	"dogbridge/internal/remote"
)

var (
	// Connection flags
	dogIP        string
	dogUser      string
	sshPort      int
	sshPasswords []string
	httpPort     int

	// Source flags
	ollamaURL string
	model     string
	watchFile string
	proxyPort int
	text      string

	// Behavior flags
	configPath    string
	verbose       bool
	noRemoteStart bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dogbridge",
	Short: "Forward LLM command envelopes to a robot dog",
	Long: `dogbridge listens to LLM output, extracts JSON action envelopes and
dispatches them to the execution listener running on the dog.

It manages the listener process over SSH, submits envelopes to its HTTP
API and polls each task until it reaches a terminal state. Input comes
from an interactive Ollama session by default; --text, --watch-file and
--proxy-port select other sources.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
	RunE:         runForwarder,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&dogIP, "dog-ip", "", "IP address of the dog")
	flags.StringVar(&dogUser, "dog-user", "", "SSH user on the dog")
	flags.IntVar(&sshPort, "ssh-port", 0, "SSH port on the dog")
	flags.StringArrayVar(&sshPasswords, "ssh-password", nil, "SSH password candidate (repeatable, tried in order)")
	flags.IntVar(&httpPort, "http-port", 0, "listener HTTP port on the dog")
	flags.StringVar(&ollamaURL, "ollama-url", "", "Ollama base URL")
	flags.StringVar(&model, "model", "", "Ollama model for interactive mode")
	flags.StringVar(&watchFile, "watch-file", "", "tail this file for model output instead of stdin")
	flags.IntVar(&proxyPort, "proxy-port", 0, "run an Ollama tee proxy on this port and forward what flows through it")
	flags.StringVar(&text, "text", "", "process this single chunk and exit")
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.BoolVar(&verbose, "verbose", false, "debug logging")
	flags.BoolVar(&noRemoteStart, "no-remote-start", false, "do not manage the listener process over SSH")
	_ = rootCmd.MarkFlagRequired("dog-ip")
}

func runForwarder(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadForwarder(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	client := dispatch.NewClient(cfg.ExecuteURL(), mustDuration(cfg.DispatchTimeout), logger)
	tracker := dispatch.NewTracker(client, mustDuration(cfg.PollInterval), cfg.Dispatch.MaxPollFailures, logger)

	var lifecycle forward.Lifecycle = noRemoteLifecycle{}
	if cfg.Dog.ManageRemote {
		transport := remote.NewSSHTransport(
			cfg.Dog.IP, cfg.Dog.User, cfg.Dog.SSHPort, cfg.Dog.Passwords,
			10*time.Second, logger)
		binPath := fmt.Sprintf("/home/%s/dogbridge-listener", cfg.Dog.User)
		lifecycle = remote.NewController(
			transport, remote.DefaultControllerConfig(binPath), client.Health, logger)
	}

	source := selectSource(cfg)
	logger.Info("starting forwarder",
		zap.String("dog", cfg.ExecuteURL()),
		zap.String("source", source.Name()),
		zap.Bool("manage_remote", cfg.Dog.ManageRemote))

	loop := forward.NewLoop(lifecycle, client, tracker, source, forward.Options{
		TrackTimeout:    mustDuration(cfg.TrackTimeout),
		DispatchTimeout: mustDuration(cfg.DispatchTimeout),
	}, logger)
	return loop.Run(ctx)
}

// applyFlagOverrides layers explicitly-set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Forwarder) {
	flags := cmd.Flags()
	if flags.Changed("dog-ip") {
		cfg.Dog.IP = dogIP
	}
	if flags.Changed("dog-user") {
		cfg.Dog.User = dogUser
	}
	if flags.Changed("ssh-port") {
		cfg.Dog.SSHPort = sshPort
	}
	if flags.Changed("ssh-password") {
		cfg.Dog.Passwords = sshPasswords
	}
	if flags.Changed("http-port") {
		cfg.Dog.HTTPPort = httpPort
	}
	if flags.Changed("ollama-url") {
		cfg.Ollama.BaseURL = ollamaURL
	}
	if flags.Changed("model") {
		cfg.Ollama.Model = model
	}
	if noRemoteStart {
		cfg.Dog.ManageRemote = false
	}
}

// selectSource picks the input in fixed priority order: a literal chunk,
// then a watched file, then the tee proxy, then interactive stdin.
func selectSource(cfg *config.Forwarder) forward.Source {
	switch {
	case text != "":
		return forward.LiteralSource(text)
	case watchFile != "":
		return &forward.FileSource{Path: watchFile, Log: logger}
	case proxyPort > 0:
		return proxy.NewSource(cfg.Ollama.BaseURL, fmt.Sprintf(":%d", proxyPort), logger)
	default:
		return &forward.StdinSource{
			Generator: ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, logger),
			Log:       logger,
		}
	}
}

// mustDuration unwraps a duration accessor already covered by Validate.
func mustDuration(f func() (time.Duration, error)) time.Duration {
	d, err := f()
	if err != nil {
		panic(err)
	}
	return d
}

// noRemoteLifecycle is the --no-remote-start mode: the listener process is
// someone else's responsibility.
type noRemoteLifecycle struct{}

func (noRemoteLifecycle) EnsureStarted(ctx context.Context) error { return nil }
func (noRemoteLifecycle) EnsureStopped(ctx context.Context)      {}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
