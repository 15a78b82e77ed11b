package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dogbridge/internal/config"
	"dogbridge/internal/listener"
)

var (
	listenAddr string
	port       int
	motionIP   string
	motionPort int
	configPath string
	verbose    bool

	logger  *zap.Logger
	logRing *listener.LogBuffer
)

var rootCmd = &cobra.Command{
	Use:   "dogbridge-listener",
	Short: "On-dog execution listener",
	Long: `dogbridge-listener runs on the dog. It accepts command envelopes over
HTTP, executes them strictly one task at a time against the onboard
motion host over UDP, and keeps the motion channel alive with a
heartbeat. Recent log lines are retained in memory and served over
/logs so the forwarder can tail them remotely.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		base, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		// Every log line also lands in the ring served over /logs.
		logRing = listener.NewLogBuffer(512)
		logger = zap.New(zapcore.NewTee(base.Core(), logRing))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
	RunE:         runListener,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "listen", "", "address to bind the HTTP API on")
	flags.IntVar(&port, "port", 0, "HTTP API port")
	flags.StringVar(&motionIP, "motion-ip", "", "motion host UDP address")
	flags.IntVar(&motionPort, "motion-port", 0, "motion host UDP port")
	flags.StringVar(&configPath, "config", "", "YAML config file")
	flags.BoolVar(&verbose, "verbose", false, "debug logging")
}

func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadListener(configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("motion-ip") {
		cfg.Motion.IP = motionIP
	}
	if flags.Changed("motion-port") {
		cfg.Motion.Port = motionPort
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

	return listener.Run(ctx, listener.Options{
		Addr:       fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port),
		MotionIP:   cfg.Motion.IP,
		MotionPort: cfg.Motion.Port,
		Logs:       logRing,
		Log:        logger,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
