package prompts

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures the template watcher.
type WatcherConfig struct {
	// DebounceDelay is how long to collect changes before reloading.
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// ReloadEvent reports one debounced reload of the library.
type ReloadEvent struct {
	// Files are the template names that changed, sorted.
	Files []string

	// Error is set when the reload failed and the previous set was kept.
	Error error
}

// Watcher reloads a Library when templates in its directory change.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	events chan ReloadEvent
	done   chan struct{}
}

// NewWatcher creates a watcher over the library's override directory.
func NewWatcher(lib *Library, config WatcherConfig) (*Watcher, error) {
	if lib == nil || lib.Dir() == "" {
		return nil, errors.New("prompt library has no override directory")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounce := config.DebounceDelay
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}

	return &Watcher{
		lib:      lib,
		watcher:  fsw,
		logger:   logger,
		debounce: debounce,
		pending:  make(map[string]fsnotify.Op),
		events:   make(chan ReloadEvent, 16),
		done:     make(chan struct{}),
	}, nil
}

// Events returns the channel of reload events. It is closed once the
// watcher has stopped.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching the override directory.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.lib.Dir()); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		close(w.events)
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Prompt watcher started",
		"dir", w.lib.Dir(),
		"debounce", w.debounce)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Prompt watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, TemplateExt) {
		return
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	w.pendingMu.Lock()
	w.pending[filepath.Base(event.Name)] = event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Template change detected",
		"file", event.Name,
		"op", event.Op.String())
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for name := range w.pending {
		files = append(files, name)
	}
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	sort.Strings(files)
	event := ReloadEvent{Files: files}
	if err := w.lib.Reload(); err != nil {
		w.logger.Warn("Prompt reload failed, keeping previous templates",
			"files", files,
			"error", err)
		event.Error = err
	}

	select {
	case w.events <- event:
	default:
		w.logger.Warn("Reload event channel full, dropping event", "files", files)
	}
}
