// Package confwatch watches the menu config file and delivers debounced
// reload notifications with the file's new contents.
package confwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
)

// ReloadHandler receives the config file's contents after a change settles.
type ReloadHandler func(text string)

// Watcher observes one config file. Editors typically replace rather than
// rewrite files, so the parent directory is watched and events are filtered
// by name; rapid bursts (rename + chmod + write) collapse into one reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  logging.Logger

	debouncer *debouncer

	mu       sync.RWMutex
	handlers []ReloadHandler
}

// debouncer groups rapid change events together.
type debouncer struct {
	delay time.Duration
	fire  chan struct{}
	out   chan struct{}
}

// New creates a watcher for the given config file.
func New(path string, debounce time.Duration, logger logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewResourceError("file watcher unavailable", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsw.Close()
		return nil, errors.NewResourceError("config path unresolvable: "+path, err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, errors.NewResourceError("config directory unwatchable: "+filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		watcher: fsw,
		logger:  logger.WithComponent("confwatch"),
		debouncer: &debouncer{
			delay: debounce,
			fire:  make(chan struct{}, 1),
			out:   make(chan struct{}, 1),
		},
	}, nil
}

// AddHandler registers a reload handler. Must be called before Start.
func (w *Watcher) AddHandler(handler ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.debouncer.run(ctx)
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debouncer.mark()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "watch error, continuing")
		}
	}
}

func (w *Watcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return abs == w.path
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-w.debouncer.out:
			if !ok {
				return
			}
			w.deliver(ctx)
		}
	}
}

func (w *Watcher) deliver(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// The file can be mid-replace; the next event retries.
		rerr := errors.NewResourceError("config unreadable after change", err)
		w.logger.Warn(ctx, rerr, "reload skipped", "path", w.path)
		return
	}

	w.logger.Info(ctx, "config changed, reloading", "path", w.path, "bytes", len(data))

	w.mu.RLock()
	handlers := w.handlers
	w.mu.RUnlock()

	for _, handler := range handlers {
		handler(string(data))
	}
}

// mark notes that a change happened; coalesced when one is already pending.
func (d *debouncer) mark() {
	select {
	case d.fire <- struct{}{}:
	default:
	}
}

// run emits one output per burst of marks, delay after the last mark.
func (d *debouncer) run(ctx context.Context) {
	timer := time.NewTimer(d.delay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.fire:
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d.delay)
			armed = true
		case <-timer.C:
			armed = false
			select {
			case d.out <- struct{}{}:
			default:
			}
		}
	}
}
