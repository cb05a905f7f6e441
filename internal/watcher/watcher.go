// Package watcher reports changes inside plugin directories.
//
// A Watcher follows one or more plugin search paths recursively with
// fsnotify, drops hidden files, and coalesces bursts of changes per plugin
// directory into a single Event. Editors typically write a file in several
// steps; the debounce delay lets the burst settle before a reload.
package watcher

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// DefaultDebounce is used when no positive debounce delay is configured.
const DefaultDebounce = 200 * time.Millisecond

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
	{OpChmod, "CHMOD"},
}

// String returns the operations joined with "|".
func (op Op) String() string {
	var names []string
	for _, n := range opNames {
		if op.Has(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, "|")
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return o != 0 && op&o == o
}

// Event reports changes inside one plugin directory.
type Event struct {
	// Plugin is the directory id below the search path, "@scope/name" for
	// scoped plugins.
	Plugin string

	// Dir is the absolute plugin directory.
	Dir string

	// Path is the last changed path of the burst.
	Path string

	// Op combines every operation seen during the burst.
	Op Op

	// Timestamp is when the last change was seen.
	Timestamp time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the delay that coalesces changes per plugin directory.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithBufferSize sets the capacity of the event channel.
func WithBufferSize(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.bufSize = n
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}
