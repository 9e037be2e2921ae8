// Package watch reloads the registry when the commands directory changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dyncmd/internal/logging"
	"dyncmd/internal/manifest"
)

// Defaults for Options.
const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultTick     = 100 * time.Millisecond
)

// Reloader is the registry side of the watcher.
type Reloader interface {
	Reload() error
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the directory must be quiet before reloading.
	Debounce time.Duration
	// Tick is how often pending changes are checked.
	Tick   time.Duration
	Logger *logging.Logger
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventPath string
	LastEventType string
	LastEventTime time.Time
}

// Watcher watches the manifest and the script files next to it, and calls
// Reload once a burst of changes settles.
type Watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	dir      string
	target   Reloader
	debounce time.Duration
	tick     time.Duration
	log      *logging.Logger

	dirty     bool
	lastEvent time.Time
	stats     Stats

	running   bool
	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a watcher for dir. Nothing is watched until Start.
func New(dir string, target Reloader, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get(logging.CategoryWatch)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		fs:       fw,
		dir:      dir,
		target:   target,
		debounce: opts.Debounce,
		tick:     opts.Tick,
		log:      opts.Logger,
	}, nil
}

// Start begins watching in the background. It is a no-op when already
// running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	w.running = true
	w.log.Info("watching %s", w.dir)

	go w.run(ctx, w.doneCh)
	return nil
}

// Stop stops the watcher, waits for the event loop to exit and releases
// the underlying OS watcher. The Watcher cannot be restarted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.doneCh
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	w.closeOnce.Do(func() {
		if err := w.fs.Close(); err != nil {
			w.log.Error("error closing watcher: %v", err)
		}
		w.log.Info("stopped")
	})
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.reloadIfSettled()
		}
	}
}

// Relevant reports whether a change to path affects the command set.
// Temporary files written during atomic saves are not.
func Relevant(path string) bool {
	return filepath.Base(path) == manifest.FileName || manifest.IsScript(path)
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !Relevant(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}
	w.log.Debug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = true
	w.lastEvent = time.Now()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.stats.LastEventTime = w.lastEvent
}

func (w *Watcher) reloadIfSettled() {
	w.mu.Lock()
	if !w.dirty || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.dirty = false
	w.mu.Unlock()

	w.log.Info("changes settled in %s, reloading", w.dir)
	err := w.target.Reload()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Reloads++
	if err != nil {
		w.stats.Errors++
		w.log.Error("reload failed: %v", err)
	}
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
