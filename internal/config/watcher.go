package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch calls onChange whenever one of paths is written, created or renamed.
// Bursts of events within a short window are coalesced into one call.
// Parent directories are watched so that editors replacing the file atomically
// are still observed. Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, onChange func(), paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer w.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	var (
		timer    *time.Timer
		fire     <-chan time.Time
		relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !targets[abs] || ev.Op&relevant == 0 {
				continue
			}
			slog.Debug("config: change detected", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)
		}
	}
}
