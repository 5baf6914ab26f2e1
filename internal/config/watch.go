package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long Watch waits after the last write before reloading, so
// editors that truncate and rewrite produce a single reload.
const settle = 100 * time.Millisecond

// Watch reloads configFile whenever it changes and hands every successfully
// validated result to onChange. Invalid intermediate versions are logged
// and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, configFile string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file and drop a
	// file-level watch.
	dir := filepath.Dir(configFile)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(configFile)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(configFile)
			if err != nil {
				logger.Warn("Ignoring invalid config change", "file", configFile, "error", err)
				continue
			}
			logger.Info("Config reloaded", "file", configFile, "recording_enabled", cfg.Recording.Enabled)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}
