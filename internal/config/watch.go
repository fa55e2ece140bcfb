package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the file at path changes and hands
// each successfully loaded Config to apply. A reload that fails to parse or
// validate is logged and the previous configuration stays active. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return fmt.Errorf("config: watch %q: %w", path, err)
	}
	logger.Info("watching config for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Plain writes and atomic saves (write temp file, rename over the
			// watched path) both count as changes.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// An atomic save replaced the inode; re-add the path so later
			// writes are still observed, whether or not this reload succeeds.
			if ev.Has(fsnotify.Create) {
				if err := w.Add(path); err != nil {
					logger.Error("could not re-watch replaced config", "path", path, "err", err)
				}
			}

			cfg, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			logger.Info("config reloaded",
				"path", path, "collectors", len(cfg.Collectors), "rules", len(cfg.Rules))
			apply(cfg)

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "err", werr)
		}
	}
}
