// Command vcache-server runs the content-addressed binary cache for
// vcpkg build artifacts: archive ingestion, metadata indexing, periodic
// eviction, and the browsable UI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vcachehq/server/internal/blobstore"
	"github.com/vcachehq/server/internal/config"
	"github.com/vcachehq/server/internal/maintenance"
	"github.com/vcachehq/server/internal/metadb"
	"github.com/vcachehq/server/internal/server"
	"github.com/vcachehq/server/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vcache-server",
		Short: "A content-addressed binary cache server for vcpkg build artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("cache_dir", "", "root directory for the blob store (required)")
	flags.String("db_file", "", "path to the metadata database (required)")
	flags.Int("port", 0, "TCP port (default 443 with TLS, else 80)")
	flags.String("host", "0.0.0.0", "bind address")
	flags.Int("verbosity", 2, "log verbosity, 0 (trace) .. 6 (off)")
	flags.String("log_file", "", "optional trace-level log file")
	flags.String("config", "", "optional YAML config file")
	flags.StringSlice("auth", nil, "bearer tokens accepted for uploads")
	flags.String("cert", "", "TLS certificate file (requires --key)")
	flags.String("key", "", "TLS key file (requires --cert)")

	return cmd
}

// buildConfig merges configuration in the order spec.md §4.H requires:
// defaults, then an optional YAML file, then individual CLI flags the user
// actually passed -- so a CLI flag always wins over the same key set in
// the YAML file, matching original_source/src/settings.cpp's parseArgs.
// Reading every value straight off flags (rather than through bound
// variables) makes this directly testable against a real *pflag.FlagSet.
func buildConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()

	if configFile, _ := flags.GetString("config"); configFile != "" {
		if err := config.MergeYAMLFile(&cfg, configFile); err != nil {
			return config.Config{}, err
		}
	}

	if flags.Changed("cache_dir") {
		cfg.CacheDir, _ = flags.GetString("cache_dir")
	}
	if flags.Changed("db_file") {
		cfg.DBFile, _ = flags.GetString("db_file")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("verbosity") {
		cfg.Verbosity, _ = flags.GetInt("verbosity")
	}
	if flags.Changed("log_file") {
		cfg.LogFile, _ = flags.GetString("log_file")
	}
	if flags.Changed("cert") || flags.Changed("key") {
		cert, _ := flags.GetString("cert")
		key, _ := flags.GetString("key")
		cfg.CertAndKey = &config.CertAndKey{Cert: cert, Key: key}
	}
	authTokens, _ := flags.GetStringSlice("auth")
	config.AssignCLITokens(&cfg, authTokens)

	if err := config.Finalize(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(cfg config.Config) error {
	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	blobs, err := blobstore.Open(cfg.CacheDir, logger.With("component", "blobstore"))
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	db, err := metadb.Open(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("opening metadata db: %w", err)
	}
	defer db.Close()

	if err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "vcache-server",
		ServiceVersion: "dev",
	}); err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	maint := maintenance.New(db, blobs, maintenance.Config{
		MaxAge:         cfg.Maintenance.MaxAge.Duration(),
		MaxUnused:      cfg.Maintenance.MaxUnused.Duration(),
		MaxPackageSize: int64(cfg.Maintenance.MaxPackageSize),
		MaxTotalSize:   int64(cfg.Maintenance.MaxTotalSize),
		DryRun:         cfg.Maintenance.DryRun,
		Logger:         logger.With("component", "maintenance"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	maint.Start(ctx)
	defer maint.Stop()

	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srvCfg := server.Config{
		Address: address,
		Logger:  logger.With("component", "server"),
	}
	if cfg.CertAndKey != nil {
		srvCfg.CertFile = cfg.CertAndKey.Cert
		srvCfg.KeyFile = cfg.CertAndKey.Key
	}

	auth := server.NewAuthFilter(cfg.AuthWrite)
	srv := server.New(srvCfg, blobs, db, maint, auth)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("vcache-server started", "address", address, "cache_dir", cfg.CacheDir, "db_file", cfg.DBFile)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildLogger maps the 0(trace)..6(off) verbosity scale onto slog levels
// and, when a log file is configured, attaches a second trace-level sink
// alongside the primary one -- per settings.cpp's dual-sink behavior.
// The primary sink uses tint's colorized handler.
func buildLogger(cfg config.Config) *slog.Logger {
	level := verbosityToLevel(cfg.Verbosity)

	primary := tint.NewHandler(os.Stdout, &tint.Options{Level: level})

	if cfg.LogFile == "" {
		return slog.New(primary)
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v\n", cfg.LogFile, err)
		return slog.New(primary)
	}

	traceHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: levelTrace})
	return slog.New(fanoutHandler{primary, traceHandler})
}

const levelTrace = slog.Level(-8)

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return levelTrace
	case v == 1:
		return slog.LevelDebug
	case v == 2:
		return slog.LevelInfo
	case v == 3:
		return slog.LevelWarn
	case v == 4:
		return slog.LevelError
	default:
		return slog.Level(1 << 20) // 5 (almost off) and 6 (off) both suppress everything practical
	}
}

// fanoutHandler duplicates every record to both handlers, used to drive
// the optional trace-level log file alongside the primary verbosity-scoped
// sink.
type fanoutHandler struct {
	primary slog.Handler
	file    slog.Handler
}

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r.Clone()); err != nil {
			firstErr = err
		}
	}
	if h.file.Enabled(ctx, r.Level) {
		if err := h.file.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanoutHandler{h.primary.WithAttrs(attrs), h.file.WithAttrs(attrs)}
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	return fanoutHandler{h.primary.WithGroup(name), h.file.WithGroup(name)}
}
