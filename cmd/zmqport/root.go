package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/zmqport/internal/config"
	"github.com/danmuck/zmqport/internal/logging"
	"github.com/danmuck/zmqport/internal/messaging"
	"github.com/danmuck/zmqport/internal/observability"
	"github.com/danmuck/zmqport/internal/worker"
)

const exitBootstrap = 1

const (
	configFlag      = "config"
	logLevelFlag    = "log-level"
	metricsAddrFlag = "metrics-addr"
	backendFlag     = "backend"
	forceFlag       = "force"
)

type rootFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
	backend     string
}

// run executes the command line and returns the process exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return int(worker.ExitOK)
	}

	var fatal *worker.FatalError
	if errors.As(err, &fatal) {
		return int(fatal.Status)
	}
	fmt.Fprintf(stderr, "zmqport: %v\n", err)
	return exitBootstrap
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "zmqport",
		Short: "Serves ZeroMQ sockets to a parent process over framed stdin/stdout",
		Long: `zmqport is a port worker. It reads 2-byte length-prefixed requests from stdin,
runs them against one shared ZeroMQ context and writes one framed reply per
request to stdout. Diagnostics go to stderr only.

Exit status is 0 when stdin closes cleanly, 253 on a transport failure and
254 on a protocol or internal error.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, stdin, stdout, stderr)
		},
	}
	// Help and usage must never reach stdout; it belongs to the protocol.
	root.SetOut(stderr)
	root.SetErr(stderr)

	root.Flags().StringVarP(&flags.configPath, configFlag, "c", "", "Path to a TOML config file.")
	root.Flags().StringVar(&flags.logLevel, logLevelFlag, "", "Log level (trace|debug|info|warn|error|disabled). Overrides the config file.")
	root.Flags().StringVar(&flags.metricsAddr, metricsAddrFlag, "", "Serve Prometheus metrics on this address. Overrides the config file.")
	root.Flags().StringVar(&flags.backend, backendFlag, "", "Messaging backend (zmq|memory). Overrides the config file.")

	root.AddCommand(newConfigCmd())
	return root
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with zmqport config files",
	}

	var force bool
	write := &cobra.Command{
		Use:   "init <path>",
		Short: "Write an example config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote config template to %s\n", args[0])
			return nil
		},
	}
	write.Flags().BoolVar(&force, forceFlag, false, "Overwrite an existing file.")

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check that a config file loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "validated config at %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(write, validate)
	return cmd
}

// resolveConfig layers flags over the config file over defaults.
func resolveConfig(cmd *cobra.Command, flags rootFlags) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed(logLevelFlag) {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed(metricsAddrFlag) {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if cmd.Flags().Changed(backendFlag) {
		cfg.Backend = flags.backend
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return config.Config{}, fmt.Errorf("unknown log level: %q", cfg.LogLevel)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, stderr io.Writer) (zerolog.Logger, string) {
	logCfg := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logCfg.Level = lvl
	}
	logging.ApplyEnvOverrides(&logCfg)
	return logging.WithInstance(logging.New(logCfg, stderr))
}

func newContext(ctx context.Context, cfg config.Config, log zerolog.Logger) messaging.Context {
	if cfg.Backend == config.BackendMemory {
		return messaging.NewMemory(cfg.InboxSize)
	}
	return messaging.NewZMQ(ctx, messaging.ZMQOptions{
		Timeout:   cfg.Timeout,
		DialRetry: cfg.DialRetry,
		InboxSize: cfg.InboxSize,
	}, log)
}

func serve(ctx context.Context, cfg config.Config, stdin io.Reader, stdout, stderr io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log, instance := newLogger(cfg, stderr)
	log.Info().
		Str("instance", instance).
		Str("backend", cfg.Backend).
		Int("max_sockets", cfg.MaxSockets).
		Msg("worker starting")

	observability.RegisterMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := observability.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Warn().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener stopped")
			}
		}()
	}

	w := worker.New(newContext(ctx, cfg, log), worker.Options{
		MaxSockets: cfg.MaxSockets,
		Logger:     log,
		Recorder:   observability.NewRecorder(),
	})

	err := w.Serve(stdin, stdout)
	if closeErr := w.Close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("shutdown reported errors")
	}
	if err != nil {
		log.Error().Err(err).Int("status", int(worker.StatusOf(err))).Msg("worker terminated")
		return err
	}
	log.Info().Msg("worker stopped")
	return nil
}
