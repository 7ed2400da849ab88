package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the holder's config file whenever it changes, until ctx is
// canceled. The file's directory is watched rather than the file so that
// editors replacing the file atomically are seen. apply runs on the new
// config before it is stored; env and CLI overrides go there. An invalid
// file is logged and the previous config stays in effect.
func Watch(ctx context.Context, h *Holder, apply func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(h.Path())
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(target), err)
	}

	logger.Info("watching config file", slog.String("path", target))

	var (
		timer  *time.Timer
		reload = make(chan struct{}, 1)
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			_ = Reload(h, apply, logger)

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))
		}
	}
}

// Reload re-reads the holder's file once. On failure the error is logged and
// returned, and the previous config stays in effect.
func Reload(h *Holder, apply func(*Config), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := decodeFile(h.Path())
	if err == nil {
		if apply != nil {
			apply(cfg)
		}

		err = Validate(cfg)
	}

	if err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", h.Path()),
			slog.String("error", err.Error()),
		)

		return err
	}

	h.Update(cfg)
	logger.Info("config reloaded", slog.String("path", h.Path()))

	return nil
}
