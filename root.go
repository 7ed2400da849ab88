package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/kvstore"
	"github.com/tonimelisma/onedrive-serve/internal/tokencache"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagListenAddr string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var (
	resolvedCfg  *config.Config
	resolvedPath string
)

// Log file rotation limits. Age comes from logging.retention_days.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 5
)

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "onedrive-serve",
		Short:   "Serve a OneDrive folder over HTTP",
		Long:    "Browse a OneDrive drive through a listing API and a read-only WebDAV endpoint.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cliOverrides(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedPath = path

	return nil
}

// cliOverrides collects the flags the user explicitly set.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		cli.ListenAddr = &flagListenAddr
	}

	var level string

	switch {
	case flagVerbose:
		level = "debug"
	case flagQuiet:
		level = "error"
	}

	if level != "" {
		cli.LogLevel = &level
	}

	return cli
}

// buildLogger creates an slog.Logger from the resolved logging section.
// Format "auto" picks text on a terminal and JSON otherwise. When a log file
// is configured, output goes there through a rotating writer instead of
// stderr.
func buildLogger(cfg *config.Config) *slog.Logger {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}

	var (
		w        io.Writer = os.Stderr
		terminal           = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	)

	if cfg.Logging.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     cfg.Logging.RetentionDays,
			Compress:   true,
		}
		terminal = false
	}

	switch cfg.Logging.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "text":
		return slog.New(slog.NewTextHandler(w, opts))
	default:
		if terminal {
			return slog.New(slog.NewTextHandler(w, opts))
		}

		return slog.New(slog.NewJSONHandler(w, opts))
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHTTPClient returns the client used for every Graph request. The
// per-request deadline is applied by the Graph client; here only connection
// setup is bounded.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout()}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout()

	return &http.Client{Transport: transport}
}

// openTokens opens the configured store and wraps it in a token cache. The
// returned close func releases the store.
func openTokens(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tokencache.Cache, func(), error) {
	if cfg.Store.Backend == kvstore.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	store, err := kvstore.Open(ctx, kvstore.Options{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		SQLitePath: cfg.Store.SQLitePath,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing token store", slog.String("error", err.Error()))
		}
	}

	return tokencache.New(store, cfg.Store.KeyPrefix, logger), closeStore, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
