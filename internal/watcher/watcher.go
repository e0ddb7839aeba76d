// Package watcher watches dataset source files with fsnotify and reports
// debounced change events so the owning dataset can reload and rebuild.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher maps source file paths to dataset names and invokes the change
// callback after writes settle.
type Watcher struct {
	onChange func(dataset, path string)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	sources  map[string]string // abs file path -> dataset name
	dirs     map[string]int    // watched parent dirs, refcounted
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle delay between the last write event and
// the change callback.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher. onChange is called with the dataset name
// and source path once a changed file settles.
func NewWatcher(onChange func(dataset, path string), opts ...Option) *Watcher {
	w := &Watcher{
		onChange: onChange,
		debounce: defaultDebounce,
		sources:  make(map[string]string),
		dirs:     make(map[string]int),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is
// called. Sources may be added before or after starting.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	for dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	// Snapshot the channels: Stop nils w.watcher under the mutex, and the
	// loop must keep draining until Close closes them.
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	events, errs := w.watcher.Events, w.watcher.Errors
	w.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.mu.Lock()
	dataset, tracked := w.sources[path]
	w.mu.Unlock()
	if !tracked {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event",
			zap.String("op", ev.Op.String()),
			zap.String("path", path),
			zap.String("dataset", dataset),
		)
	}
	switch {
	case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Create):
		w.debounceChange(dataset, path)
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// Editors often replace files via rename; the following create
		// re-arms the debounce. A plain delete just cancels it.
		w.cancelDebounce(path)
	}
}

func (w *Watcher) debounceChange(dataset, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Debug("watcher source settled",
				zap.String("path", path),
				zap.String("dataset", dataset),
			)
		}
		if w.onChange != nil {
			w.onChange(dataset, path)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

// AddSource registers a source file for a dataset. The file's parent
// directory is watched; the file itself may not exist yet.
func (w *Watcher) AddSource(dataset, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, exists := w.sources[abs]; exists && prev != dataset {
		return fmt.Errorf("source %s already mapped to dataset %q", abs, prev)
	}
	if _, exists := w.sources[abs]; !exists {
		w.sources[abs] = dataset
		w.dirs[dir]++
		if w.started && w.dirs[dir] == 1 {
			if err := w.watcher.Add(dir); err != nil {
				delete(w.sources, abs)
				w.dirs[dir]--
				return fmt.Errorf("watch %s: %w", dir, err)
			}
		}
	}
	return nil
}

// RemoveSource stops watching a source file.
func (w *Watcher) RemoveSource(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.sources[abs]; !exists {
		return
	}
	delete(w.sources, abs)
	if t, ok := w.timers[abs]; ok {
		t.Stop()
		delete(w.timers, abs)
	}
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if w.started && w.watcher != nil {
			_ = w.watcher.Remove(dir)
		}
	}
}

// Sources returns a copy of the path-to-dataset mapping.
func (w *Watcher) Sources() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.sources))
	for path, dataset := range w.sources {
		out[path] = dataset
	}
	return out
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
