package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/dannyswat/htmlstage"
	"github.com/dannyswat/htmlstage/internal/debug"
)

// DefaultPollInterval is the polling interval for fallback mode.
const DefaultPollInterval = time.Second

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithForcePoll polls even when fsnotify is available.
func WithForcePoll(force bool) WatcherOption {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

// WithDebounce sets the delay used to coalesce bursts of fsnotify events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debouncer = htmlstage.NewDebouncer(d)
	}
}

// WithOnImport sets the callback invoked after every re-import with the uids
// that disappeared.
func WithOnImport(fn func(deleted []htmlstage.UID)) WatcherOption {
	return func(w *Watcher) {
		w.onImport = fn
	}
}

// WithDocument watches the open document's store and hands outside edits to
// fn, typically Coordinator.ExternalChange.
func WithDocument(store *FileStore, fn func(text string) error) WatcherOption {
	return func(w *Watcher) {
		w.store = store
		w.onDocument = fn
	}
}

// WithOnError sets the callback invoked on errors.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// Watcher re-imports a workspace when the disk changes, using fsnotify on
// the root and expanded directories with a polling fallback. A refresh that
// arrives while another is running is skipped.
type Watcher struct {
	ws           *Workspace
	root         string
	pollInterval time.Duration
	forcePoll    bool
	debouncer    *htmlstage.Debouncer
	sem          *semaphore.Weighted

	onImport   func([]htmlstage.UID)
	onDocument func(string) error
	onError    func(error)
	store      *FileStore

	mu          sync.Mutex
	fsWatcher   *fsnotify.Watcher
	watched     map[string]bool
	useFallback bool
	cancel      context.CancelFunc
	started     bool
	wg          sync.WaitGroup
}

// NewWatcher creates a watcher for ws. root is the workspace's directory on
// disk; an empty root forces polling.
func NewWatcher(ws *Workspace, root string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		ws:           ws,
		root:         root,
		pollInterval: DefaultPollInterval,
		debouncer:    htmlstage.NewDebouncer(100 * time.Millisecond),
		sem:          semaphore.NewWeighted(1),
		onImport:     func([]htmlstage.UID) {},
		onError:      func(error) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The context bounds the watcher's lifetime.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrAlreadyStarted
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.useFallback = w.forcePoll || w.root == ""

	if !w.useFallback {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			debug.Log("workspace: fsnotify unavailable, polling: %v", err)
			w.useFallback = true
		} else {
			w.fsWatcher = fsw
			w.watched = map[string]bool{}
			if err := w.syncWatchesLocked(); err != nil {
				fsw.Close()
				w.fsWatcher = nil
				w.useFallback = true
			}
		}
	}

	w.wg.Add(1)
	if w.useFallback {
		go w.watchPolling(ctx)
	} else {
		go w.watchFsnotify(ctx, w.fsWatcher)
	}
	w.started = true
	return nil
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.cancel()
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	w.debouncer.Cancel()
	w.started = false
	w.mu.Unlock()
	w.wg.Wait()
}

// IsPolling reports whether the watcher fell back to polling.
func (w *Watcher) IsPolling() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.useFallback
}

// Refresh re-imports the tree and checks the document now. It returns false
// without doing anything when another refresh or a file action is running.
func (w *Watcher) Refresh(ctx context.Context) bool {
	if !w.sem.TryAcquire(1) {
		debug.Log("workspace: refresh skipped, one is running")
		return false
	}
	defer w.sem.Release(1)

	deleted, imported, err := w.ws.TryImport(ctx)
	if !imported {
		debug.Log("workspace: refresh skipped, a file action is pending")
		return false
	}
	if err != nil {
		w.onError(err)
	} else {
		w.onImport(deleted)
		w.mu.Lock()
		if w.fsWatcher != nil {
			if err := w.syncWatchesLocked(); err != nil {
				debug.Log("workspace: watch sync: %v", err)
			}
		}
		w.mu.Unlock()
	}

	if w.store != nil && w.onDocument != nil {
		text, changed, err := w.store.CheckExternal()
		switch {
		case err != nil:
			w.onError(err)
		case changed:
			if err := w.onDocument(text); err != nil {
				w.onError(err)
			}
		}
	}
	return true
}

// syncWatchesLocked watches the root and the expanded directories and drops
// watches on the rest. The caller holds w.mu.
func (w *Watcher) syncWatchesLocked() error {
	want := map[string]bool{w.root: true}
	view := w.ws.Tree().View()
	for _, uid := range view.Expanded.Items() {
		want[filepath.Join(w.root, filepath.FromSlash(FilePath(uid)))] = true
	}
	for dir := range w.watched {
		if !want[dir] {
			_ = w.fsWatcher.Remove(dir)
			delete(w.watched, dir)
		}
	}
	for dir := range want {
		if w.watched[dir] {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			if dir == w.root {
				return err
			}
			debug.Log("workspace: watch %s: %v", dir, err)
			continue
		}
		w.watched[dir] = true
	}
	return nil
}

func (w *Watcher) watchFsnotify(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	events, errs := fsw.Events, fsw.Errors
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.debouncer.Trigger(func() {
				if ctx.Err() == nil {
					w.Refresh(ctx)
				}
			})
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) watchPolling(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}
