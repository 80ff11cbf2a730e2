package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/go-sslteam/internal/log"
)

// ErrNoPath is returned by Watch when the loader has no file.
var ErrNoPath = errors.New("config: watch: no path")

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// Watch reloads l whenever its file changes and passes each valid result to
// onChange. Invalid files are logged and skipped. The directory is watched
// rather than the file so that editors replacing the file by rename are
// picked up. Watch blocks until ctx is done.
func Watch(ctx context.Context, l Loader, debounce time.Duration, onChange func(Config), logger *slog.Logger) error {
	if l.Path == "" {
		return ErrNoPath
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	lg := log.Or(logger, "config")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Split(filepath.Clean(l.Path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			lg.Warn("config reload failed, keeping previous values", "path", l.Path, "error", err)
			return
		}
		lg.Info("config reloaded", "path", l.Path)
		onChange(cfg)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	lg.Debug("watching config", "path", l.Path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			lg.Warn("config watcher error", "error", err)
		}
	}
}
