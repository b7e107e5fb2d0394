package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"multiagent/pkg/logx"
)

// DefaultDebounce is how long the watcher waits before reacting to repeated
// events for the same path.
const DefaultDebounce = 100 * time.Millisecond

// Watcher translates external file modifications beneath the workspace root
// into the same change events internal edits produce, so the observer sees
// one stream.
type Watcher struct {
	store    *Store
	fsw      *fsnotify.Watcher
	logger   *logx.Logger
	debounce time.Duration

	mu        sync.Mutex
	pending   map[string]*time.Timer
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a watcher over the store's root, registering every
// existing subdirectory.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}

	w := &Watcher{
		store:    store,
		fsw:      fsw,
		logger:   logx.NewLogger("workspace-watcher"),
		debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	err = filepath.WalkDir(store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch workspace tree: %w", err)
	}
	return w, nil
}

// Start runs the watch loop until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Watcher error: %v", err)
			}
		}
	}()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New directories must be added for the watch to stay recursive.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return
	}

	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	// Debounce bursts of writes to the same file.
	w.mu.Lock()
	if timer, ok := w.pending[rel]; ok {
		timer.Stop()
	}
	w.pending[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		w.mu.Unlock()
		w.store.reloadExternal(rel)
	})
	w.mu.Unlock()
}

// Close stops the watch loop and releases the fsnotify handle.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()
	})
	return err
}
