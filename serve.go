package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/onedrive-serve/internal/config"
	"github.com/tonimelisma/onedrive-serve/internal/graph"
	"github.com/tonimelisma/onedrive-serve/internal/metrics"
	"github.com/tonimelisma/onedrive-serve/internal/server"
)

const pidFileName = "onedrive-serve.pid"

var (
	flagPIDFile string
	flagNoWatch bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Serve the drive on the configured address.

The config file is watched and reloaded on change; SIGHUP (or the reload
command) forces a reload. Listen address and route prefixes only change on
restart.`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&flagListenAddr, "listen", "", "listen address (overrides server.listen_addr)")
	cmd.Flags().StringVar(&flagPIDFile, "pid-file", defaultPIDPath(), "PID file used by the reload command")
	cmd.Flags().BoolVar(&flagNoWatch, "no-watch", false, "do not reload the config file on change")

	return cmd
}

func defaultPIDPath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFileName)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := shutdownContext(cmd.Context(), logger)

	var lock *serverLock

	if flagPIDFile != "" {
		l, err := lockPIDFile(flagPIDFile)
		if err != nil {
			return err
		}
		defer l.Release()

		lock = l
	}

	tokens, closeStore, err := openTokens(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()

	// Upstream failures surface to the client as-is.
	client := graph.NewClient(cfg.Drive.API, newHTTPClient(cfg), tokens, logger,
		graph.WithUserAgent(cfg.Network.UserAgent),
		graph.WithRequestTimeout(cfg.RequestTimeout()),
		graph.WithMaxRetries(0),
		graph.WithObserver(m),
	)

	holder := config.NewHolder(cfg, resolvedPath)

	// Reloaded files go through the same env and flag overrides as startup.
	env := config.ReadEnvOverrides()
	cli := cliOverrides(cmd)
	applyOverrides := func(c *config.Config) {
		env.Apply(c)

		if cli.ListenAddr != nil {
			c.Server.ListenAddr = *cli.ListenAddr
		}

		if cli.LogLevel != nil {
			c.Logging.Level = *cli.LogLevel
		}
	}

	srv := server.New(server.Deps{
		Config:  holder,
		Tokens:  tokens,
		Drive:   client,
		Metrics: m,
		Logger:  logger,
	})

	ln, err := srv.Listen()
	if err != nil {
		return err
	}

	if lock != nil {
		rec := serverRecord{
			PID:     os.Getpid(),
			Listen:  ln.Addr().String(),
			Config:  resolvedPath,
			Started: time.Now().UTC(),
		}

		if err := lock.Publish(rec); err != nil {
			ln.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Serve(gctx, ln) })

	g.Go(func() error {
		reloadOnHangup(gctx, func() { _ = config.Reload(holder, applyOverrides, logger) }, logger)
		return nil
	})

	if !flagNoWatch && fileExists(resolvedPath) {
		g.Go(func() error {
			if err := config.Watch(gctx, holder, applyOverrides, logger); err != nil {
				logger.Warn("config watcher stopped", slog.String("error", err.Error()))
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")

	return nil
}

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its config file",
		Long: `Send SIGHUP to the server recorded in the PID file. The server must have
been started with the same config file this command resolves.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := signalReload(flagPIDFile, resolvedPath)
			if err != nil {
				return err
			}

			statusf(cmd, "Reload signal sent to server on %s (PID %d).\n", rec.Listen, rec.PID)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagPIDFile, "pid-file", defaultPIDPath(), "PID file written by serve")

	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var _ server.Drive = (*graph.Client)(nil)
