package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches plugin search paths.
type Watcher struct {
	mu sync.RWMutex

	fsw *fsnotify.Watcher

	// roots are the absolute search paths
	roots []string

	// paths holds every watched directory
	paths map[string]bool

	delay   time.Duration
	bufSize int
	pending map[string]*pendingEvent

	events chan Event
	errors chan error

	logger zerolog.Logger

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// New creates a watcher. Call AddRoot for each plugin search path.
func New(opts ...Option) (*Watcher, error) {
	w := &Watcher{
		paths:   make(map[string]bool),
		delay:   DefaultDebounce,
		bufSize: 100,
		pending: make(map[string]*pendingEvent),
		logger:  zerolog.Nop(),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw
	w.events = make(chan Event, w.bufSize)
	w.errors = make(chan error, w.bufSize)

	w.closedWg.Add(1)
	go w.processLoop()

	return w, nil
}

// AddRoot watches a plugin search path and every directory below it.
func (w *Watcher) AddRoot(path string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrPathNotExist
		}
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "watch", Path: root, Err: os.ErrInvalid}
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	for _, r := range w.roots {
		if r == root {
			w.mu.Unlock()
			return ErrAlreadyWatching
		}
	}
	w.roots = append(w.roots, root)
	w.mu.Unlock()

	return w.watchRecursive(root)
}

// watchRecursive adds dir and its non-hidden subdirectories.
func (w *Watcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watch(p); err != nil && err != ErrAlreadyWatching {
			return err
		}
		return nil
	})
}

func (w *Watcher) watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[dir] {
		return ErrAlreadyWatching
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.paths[dir] = true
	return nil
}

// Events returns the debounced event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the error channel. It is closed by Close.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsWatching returns true if the directory is being watched.
func (w *Watcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.paths[abs]
}

// WatchedPaths returns all watched directories, sorted.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	paths := make([]string, 0, len(w.paths))
	for p := range w.paths {
		paths = append(paths, p)
	}
	w.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Close stops the watcher. Pending events are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for key, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, key)
	}
	w.mu.Unlock()

	w.closedWg.Wait()

	// Timers fire under mu and check closed, so no send can follow
	w.mu.Lock()
	close(w.events)
	close(w.errors)
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
			w.sendError(err)
		}
	}
}

func (w *Watcher) handleFSEvent(fsEvent fsnotify.Event) {
	op := convertOp(fsEvent.Op)
	if op == 0 {
		return
	}

	root, ok := w.rootFor(fsEvent.Name)
	if !ok {
		return
	}
	id, dir, ok := pluginDir(root, fsEvent.Name)
	if !ok {
		return
	}

	// New directories (a new plugin or a subdirectory) are watched too
	if op.Has(OpCreate) {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if err := w.watchRecursive(fsEvent.Name); err != nil {
				w.logger.Warn().Err(err).Str("path", fsEvent.Name).Msg("cannot watch new directory")
			}
		}
	}

	if op.Has(OpRemove) || op.Has(OpRename) {
		w.forget(fsEvent.Name)
	}

	if id == "" {
		return
	}

	w.debounce(Event{
		Plugin:    id,
		Dir:       dir,
		Path:      fsEvent.Name,
		Op:        op,
		Timestamp: time.Now(),
	})
}

// forget drops path and the directories below it from the watched set.
// fsnotify removes the watches itself.
func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for p := range w.paths {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(w.paths, p)
		}
	}
}

// rootFor returns the search path containing path.
func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

// pluginDir maps a path below root to its plugin directory id.
// ok is false for root itself and for hidden paths. id is empty for a
// scope directory, which is not a plugin.
func pluginDir(root, path string) (id, dir string, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", "", false
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts {
		if isHidden(part) {
			return "", "", false
		}
	}

	if strings.HasPrefix(parts[0], "@") {
		if len(parts) == 1 {
			return "", filepath.Join(root, parts[0]), true
		}
		return parts[0] + "/" + parts[1], filepath.Join(root, parts[0], parts[1]), true
	}
	return parts[0], filepath.Join(root, parts[0]), true
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

func (w *Watcher) sendError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}
