package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Loader discovers plugins in a list of search paths.
type Loader struct {
	paths  []string
	logger zerolog.Logger

	mu         sync.RWMutex
	discovered map[string]*PluginInfo
}

// PluginInfo is what discovery learned about a plugin directory.
type PluginInfo struct {
	ID       string
	Path     string
	Manifest *Manifest

	// Error is set when the directory has a manifest that failed to load.
	Error error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths. Earlier paths win on duplicate ids.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithLoaderLogger sets the logger for discovery messages.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:      DefaultPluginPaths(),
		logger:     zerolog.Nop(),
		discovered: make(map[string]*PluginInfo),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns ./plugins and the user plugin directory.
func DefaultPluginPaths() []string {
	paths := []string{"plugins"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "hookwire", "plugins"))
	}
	return paths
}

// Paths returns the search paths.
func (l *Loader) Paths() []string {
	return append([]string(nil), l.paths...)
}

// Discover scans the search paths and returns every plugin found, sorted by id.
//
// Each direct subdirectory holding a manifest is a plugin. Directories named
// @scope are searched one level deeper. Hidden entries are skipped and
// missing search paths are not an error.
func (l *Loader) Discover() ([]*PluginInfo, error) {
	found := make(map[string]*PluginInfo)

	for _, base := range l.paths {
		if err := l.discoverInPath(base, "", found); err != nil {
			return nil, fmt.Errorf("discover plugins in %s: %w", base, err)
		}
	}

	l.mu.Lock()
	l.discovered = found
	l.mu.Unlock()

	return sortedInfos(found), nil
}

func (l *Loader) discoverInPath(base, scope string, found map[string]*PluginInfo) error {
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		dir := filepath.Join(base, name)
		if scope == "" && strings.HasPrefix(name, "@") {
			if err := l.discoverInPath(dir, name, found); err != nil {
				return err
			}
			continue
		}

		dirID := name
		if scope != "" {
			dirID = scope + "/" + name
		}

		info, ok := l.inspect(dirID, dir)
		if !ok {
			continue
		}
		if prev, exists := found[info.ID]; exists {
			l.logger.Debug().
				Str("plugin", info.ID).
				Str("path", dir).
				Str("kept", prev.Path).
				Msg("duplicate plugin id, keeping the first")
			continue
		}
		found[info.ID] = info
	}
	return nil
}

// inspect loads the manifest of one directory. ok is false when the
// directory is not a plugin at all.
func (l *Loader) inspect(dirID, dir string) (*PluginInfo, bool) {
	manifest, err := LoadManifestFromDir(dir)
	if errors.Is(err, ErrNoManifest) {
		return nil, false
	}

	info := &PluginInfo{ID: dirID, Path: dir}
	if err != nil {
		info.Error = err
		l.logger.Warn().Err(err).Str("path", dir).Msg("invalid plugin")
		return info, true
	}

	info.ID = manifest.ID
	info.Manifest = manifest
	return info, true
}

// Get returns a plugin found by the last Discover.
func (l *Loader) Get(id string) (*PluginInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.discovered[id]
	return info, ok
}

// Find returns the plugin with id, rescanning the search paths when it is
// not in the last discovery.
func (l *Loader) Find(id string) (*PluginInfo, error) {
	if info, ok := l.Get(id); ok {
		return info, nil
	}
	if _, err := l.Discover(); err != nil {
		return nil, err
	}
	if info, ok := l.Get(id); ok {
		return info, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
}

// Refresh rescans the search paths.
func (l *Loader) Refresh() ([]*PluginInfo, error) {
	return l.Discover()
}

// Errors returns the discovered plugins whose manifest failed to load.
func (l *Loader) Errors() []*PluginInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var errored []*PluginInfo
	for _, info := range sortedInfos(l.discovered) {
		if info.Error != nil {
			errored = append(errored, info)
		}
	}
	return errored
}

// PluginForPath returns the id of the discovered plugin whose directory
// contains path.
func (l *Loader) PluginForPath(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for id, info := range l.discovered {
		dir, err := filepath.Abs(info.Path)
		if err != nil {
			continue
		}
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return id, true
		}
	}
	return "", false
}

func sortedInfos(m map[string]*PluginInfo) []*PluginInfo {
	infos := make([]*PluginInfo, 0, len(m))
	for _, info := range m {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
