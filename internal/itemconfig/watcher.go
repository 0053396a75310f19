package itemconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/ppline/internal/event"
	"github.com/Iron-Ham/ppline/internal/logging"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 250 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for a file to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(l *logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l.Component("itemconfig") }
}

// WithBus publishes reload results on bus.
func WithBus(bus *event.Bus) WatcherOption {
	return func(w *Watcher) { w.bus = bus }
}

// WithClock sets the clock driving the debounce timer.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// Watcher applies an item file to an item table and re-applies it when the
// file changes. A file that fails to load leaves the table untouched.
type Watcher struct {
	path     string
	table    *preproc.ItemTable
	debounce time.Duration
	logger   *logging.Logger
	bus      *event.Bus
	clock    clock.Clock

	mu      sync.RWMutex
	current *File
	lastErr error
}

// NewWatcher creates a watcher of the file at path feeding table.
func NewWatcher(path string, table *preproc.ItemTable, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		table:    table,
		debounce: DefaultDebounce,
		logger:   logging.NopLogger(),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload applies the file now.
func (w *Watcher) Reload() error {
	f, res, err := Apply(w.table, w.path)

	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.current = f
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("cannot load item configuration", "path", w.path, "error", err)
		w.bus.Publish(event.NewItemsReloadFailedEvent(w.path, err))
		return err
	}

	rev := w.table.Revision()
	w.logger.Info("item configuration loaded",
		"path", w.path,
		"revision", rev,
		"items", len(f.Items),
		"added", res.Added,
		"updated", res.Updated,
		"removed", res.Removed,
	)
	w.bus.Publish(event.NewItemsReloadedEvent(w.path, rev, res.Added, res.Updated, res.Removed))
	return nil
}

// Current returns a copy of the last successfully applied file, or nil.
func (w *Watcher) Current() *File {
	w.mu.RLock()
	f := w.current
	w.mu.RUnlock()

	if f == nil {
		return nil
	}
	snap, err := f.Snapshot()
	if err != nil {
		w.logger.Error("cannot copy item configuration", "error", err)
		return nil
	}
	return snap
}

// LastError returns the error of the last reload, or nil.
func (w *Watcher) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Run watches the file until ctx is done. The directory is watched rather
// than the file so that editors replacing the file are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	name := filepath.Clean(w.path)

	var timer *clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("item file changed", "path", ev.Name, "op", ev.Op.String())

			if timer == nil {
				timer = w.clock.Timer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			_ = w.Reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("item file watcher error", "error", err)
		}
	}
}
