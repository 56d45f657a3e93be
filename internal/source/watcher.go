package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher emits a signal whenever a library export file is rewritten.
// Events are debounced: reference managers write exports in several bursts,
// and only the last write in a burst should trigger a re-index.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

const defaultDebounce = 2 * time.Second

// NewWatcher creates a watcher over the export file at path.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	return &Watcher{path: path, debounce: defaultDebounce, logger: logger}
}

// Watch monitors the export file until ctx is canceled. Each rewrite of the
// file, after debouncing, sends one value on the returned channel. The
// channel is closed when ctx ends or the underlying watcher fails.
func (w *Watcher) Watch(ctx context.Context) (<-chan struct{}, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	// Watch the directory, not the file: editors and exporters often
	// replace the file via rename, which drops a direct file watch.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)
		defer fw.Close()

		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Debug("export changed", "path", event.Name, "op", event.Op.String())
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					fire = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(w.debounce)
				}
			case <-fire:
				timer = nil
				fire = nil
				select {
				case changes <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watcher error", "error", err)
			}
		}
	}()

	return changes, nil
}
