package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/mumumio1/llpeer/internal/config"
	"github.com/mumumio1/llpeer/internal/harness"
	"github.com/mumumio1/llpeer/internal/log"
	"github.com/mumumio1/llpeer/internal/metrics"
	"github.com/mumumio1/llpeer/internal/peer"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type options struct {
	configPath string
	valgrind   bool
	verbose    bool
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	var code int
	cmd := newRootCmd(&code)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llpeer:", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func newRootCmd(exitCode *int) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "llpeer [flags] [--] command [args...]",
		Short: "llpeer runs a test program against a scripted LLSD/HTTP peer",
		Long: `llpeer binds a scripted HTTP peer on the first free loopback port, publishes
the port to the test program through an environment variable (LL_TEST_PORT by
default) and exits with the test program's exit code.

Request paths select the peer's behavior: /sleep/, /fail/, /bug2295/... and
/reflect/ produce slow, failing, truncated or header-echoing replies; anything
else gets a 200 with an LLSD success payload.`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd.Context(), opts, args)
			*exitCode = code
			return err
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("llpeer version %s (built %s)\n", version, buildTime))

	// everything after the subject command belongs to the subject
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVarP(&opts.valgrind, "valgrind", "V", false, "run the test program under valgrind")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or JSON configuration file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request")

	return cmd
}

func run(ctx context.Context, opts *options, args []string) (int, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return 1, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := log.NewLogger(log.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return 1, fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Debug("Starting llpeer",
		log.String("version", version),
		log.String("build_time", buildTime),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics()
		startMetricsServer(cfg.Metrics, m, logger)
	}

	handler := peer.NewHandler(peer.Options{
		ReadChunkSize: cfg.Server.ReadChunkSize,
		SleepDuration: cfg.Server.SleepDuration,
		ServerName:    "llpeer/" + version,
	}, logger, m)

	srv, err := peer.Start(ctx, peer.ServerConfig{
		Address:           cfg.Server.Address,
		PortFirst:         cfg.Server.PortFirst,
		PortLast:          cfg.Server.PortLast,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}, handler, logger, m)
	if err != nil {
		logger.Error("Failed to start peer", log.Error(err))
		return 1, err
	}

	return harness.Run(ctx, srv, srv.Port(), harness.Subject{
		Args:            args,
		PortEnv:         cfg.Subject.PortEnv,
		Valgrind:        opts.valgrind,
		ValgrindCommand: cfg.Subject.ValgrindCommand,
	}, logger)
}

// startMetricsServer serves m in the background for the life of the process.
func startMetricsServer(cfg config.MetricsConfig, m *metrics.Metrics, logger log.Logger) {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.Handler())
	srv := &http.Server{
		Addr:     addr,
		Handler:  mux,
		ErrorLog: logger.StdLogger(),
	}

	go func() {
		logger.Info("Starting metrics server", log.String("address", addr), log.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", log.Error(err))
		}
	}()
}
