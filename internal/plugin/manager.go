package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/hookwire/internal/hook"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Lifecycle hooks fired by the manager. The payload carries "id" and "version".
const (
	HookActivated   = "action:plugin.activated"
	HookDeactivated = "action:plugin.deactivated"
	HookReloaded    = "action:plugin.reloaded"
)

// Manager discovers plugins, runs their lifecycle and attaches their
// manifest hooks to a hook registry.
type Manager struct {
	mu sync.RWMutex

	loader   *Loader
	registry *hook.Registry
	logger   zerolog.Logger

	plugins   map[string]*Host
	loadOrder []string

	config ManagerConfig
}

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// PluginPaths are searched in order for plugin directories.
	PluginPaths []string

	// Active fixes the set of active plugin ids. When non-empty, only these
	// plugins are activated and Toggle is refused.
	Active []string

	// AutoActivate activates plugins as LoadAll loads them.
	AutoActivate bool

	// StaticTimeout bounds static: hook handlers. A handler that runs longer
	// is abandoned with a warning and the chain continues. Zero disables it.
	StaticTimeout time.Duration

	// ExecutionTimeout bounds every call into a plugin's Lua code.
	ExecutionTimeout time.Duration

	// QueueSize is the per-plugin executor queue size.
	QueueSize int

	// Settings override manifest setting defaults, keyed by plugin id.
	Settings map[string]map[string]any
}

// DefaultManagerConfig returns the default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PluginPaths:   DefaultPluginPaths(),
		AutoActivate:  true,
		StaticTimeout: 5 * time.Second,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a plugin manager that registers hooks with registry.
func NewManager(registry *hook.Registry, config ManagerConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		logger:   zerolog.Nop(),
		plugins:  make(map[string]*Host),
		config:   config,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loader = NewLoader(WithPaths(config.PluginPaths...), WithLoaderLogger(m.logger))
	return m
}

// Registry returns the hook registry plugins attach to.
func (m *Manager) Registry() *hook.Registry {
	return m.registry
}

// Loader returns the plugin loader.
func (m *Manager) Loader() *Loader {
	return m.loader
}

// Discover scans the plugin paths.
func (m *Manager) Discover() ([]*PluginInfo, error) {
	return m.loader.Discover()
}

// Load loads a discovered plugin without activating it.
func (m *Manager) Load(ctx context.Context, id string) (*Host, error) {
	if _, ok := m.Get(id); ok {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}

	info, err := m.loader.Find(id)
	if err != nil {
		return nil, err
	}
	if info.Error != nil {
		return nil, fmt.Errorf("plugin %q: %w", id, info.Error)
	}

	host, err := NewHost(info.Manifest,
		WithHostLogger(m.logger),
		WithHostExecutionTimeout(m.config.ExecutionTimeout),
		WithHostQueueSize(m.config.QueueSize),
		WithHostSettings(m.config.Settings[id]),
	)
	if err != nil {
		return nil, err
	}

	if err := host.Load(ctx); err != nil {
		return nil, fmt.Errorf("load plugin %q: %w", id, err)
	}

	m.mu.Lock()
	if _, exists := m.plugins[id]; exists {
		m.mu.Unlock()
		_ = host.Unload(ctx)
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}
	m.plugins[id] = host
	m.loadOrder = append(m.loadOrder, id)
	m.mu.Unlock()

	return host, nil
}

// LoadAll discovers and loads every valid plugin. With AutoActivate set it
// activates the loaded plugins that should be active.
func (m *Manager) LoadAll(ctx context.Context) error {
	infos, err := m.loader.Discover()
	if err != nil {
		return err
	}

	var errs []error
	for _, info := range infos {
		if info.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", info.ID, info.Error))
			continue
		}
		if _, ok := m.Get(info.ID); ok {
			continue
		}
		if _, err := m.Load(ctx, info.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		if m.config.AutoActivate && m.shouldActivate(info.ID) {
			if err := m.Activate(ctx, info.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d plugins failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (m *Manager) shouldActivate(id string) bool {
	return len(m.config.Active) == 0 || lo.Contains(m.config.Active, id)
}

// Activate runs the plugin's activate function and registers its manifest
// hooks under the plugin id.
func (m *Manager) Activate(ctx context.Context, id string) error {
	host, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	if host.State() == StateActive {
		return nil
	}

	if err := host.Activate(ctx); err != nil {
		return err
	}

	for _, hs := range host.Manifest().Hooks {
		if _, err := m.registry.Register(id, hook.Registration{
			Hook:   hs.Hook,
			Method: m.hookMethod(host, hs),
		}); err != nil {
			m.registry.UnregisterAll(id)
			_ = host.Deactivate(ctx)
			return fmt.Errorf("register %s for %q: %w", hs.Hook, id, err)
		}
	}

	m.logger.Info().
		Str("plugin", id).
		Int("hooks", len(host.Manifest().Hooks)).
		Msg("plugin activated")
	m.fireLifecycle(ctx, HookActivated, host)
	return nil
}

// hookMethod adapts one manifest hook to a registry method.
func (m *Manager) hookMethod(host *Host, hs HookSpec) *hook.Method {
	fn := hs.Method
	method := hook.Func(func(ctx context.Context, p hook.Payload) (hook.Payload, error) {
		return host.CallHook(ctx, fn, p)
	}).Named(host.ID() + ":" + fn)

	if hook.KindOf(hs.Hook) == hook.KindStatic {
		method = hook.WithSoftTimeout(method, m.config.StaticTimeout, m.logger.With().
			Str("plugin", host.ID()).
			Str("hook", hs.Hook).
			Logger())
	}
	return method
}

// Deactivate removes the plugin's hooks and runs its deactivate function.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	host, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	return m.deactivateHost(ctx, host)
}

func (m *Manager) deactivateHost(ctx context.Context, host *Host) error {
	if host.State() != StateActive {
		return nil
	}

	removed := m.registry.UnregisterAll(host.ID())
	err := host.Deactivate(ctx)

	m.logger.Info().Str("plugin", host.ID()).Int("hooks", removed).Msg("plugin deactivated")
	m.fireLifecycle(ctx, HookDeactivated, host)
	return err
}

// Unload deactivates and releases a plugin.
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	host, ok := m.plugins[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	delete(m.plugins, id)
	m.loadOrder = lo.Without(m.loadOrder, id)
	m.mu.Unlock()

	deactivateErr := m.deactivateHost(ctx, host)
	if err := host.Unload(ctx); err != nil {
		return fmt.Errorf("unload plugin %q: %w", id, err)
	}
	return deactivateErr
}

// UnloadAll unloads every plugin in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	m.mu.RLock()
	ids := append([]string(nil), m.loadOrder...)
	m.mu.RUnlock()

	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.Unload(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload unloads a plugin, rescans the plugin paths and loads it again,
// restoring its active state.
func (m *Manager) Reload(ctx context.Context, id string) error {
	host, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	}
	wasActive := host.State() == StateActive

	if err := m.Unload(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("plugin", id).Msg("unload during reload failed")
	}
	if _, err := m.loader.Refresh(); err != nil {
		return fmt.Errorf("reload %q: %w", id, err)
	}

	newHost, err := m.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("reload %q: %w", id, err)
	}
	if wasActive {
		if err := m.Activate(ctx, id); err != nil {
			return fmt.Errorf("reload %q: %w", id, err)
		}
	}

	m.logger.Info().Str("plugin", id).Msg("plugin reloaded")
	m.fireLifecycle(ctx, HookReloaded, newHost)
	return nil
}

// Sync brings a plugin in line with its directory after a change on disk.
// A loaded plugin is reloaded, or unloaded when its directory is gone. A
// newly discovered plugin is loaded and, with AutoActivate set, activated.
func (m *Manager) Sync(ctx context.Context, id string) error {
	if _, err := m.loader.Refresh(); err != nil {
		return err
	}

	info, discovered := m.loader.Get(id)
	_, loaded := m.Get(id)

	switch {
	case !discovered && loaded:
		return m.Unload(ctx, id)
	case !discovered:
		return fmt.Errorf("plugin %q: %w", id, ErrPluginNotFound)
	case loaded:
		return m.Reload(ctx, id)
	case info.Error != nil:
		return fmt.Errorf("plugin %q: %w", id, info.Error)
	}

	if _, err := m.Load(ctx, id); err != nil {
		return err
	}
	if m.config.AutoActivate && m.shouldActivate(id) {
		return m.Activate(ctx, id)
	}
	return nil
}

// Toggle activates an inactive plugin, loading it first if needed, or
// deactivates an active one. It returns the new active state.
func (m *Manager) Toggle(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if len(m.config.Active) > 0 {
		return false, ErrActiveSetInConfig
	}

	host, ok := m.Get(id)
	if ok && host.State() == StateActive {
		return false, m.Deactivate(ctx, id)
	}

	if !ok {
		if _, err := m.Load(ctx, id); err != nil {
			return false, err
		}
	}
	if err := m.Activate(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// IsActive reports whether a plugin is active. When the active set is fixed
// by configuration, that set is authoritative.
func (m *Manager) IsActive(id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if len(m.config.Active) > 0 {
		return lo.Contains(m.config.Active, id), nil
	}
	host, ok := m.Get(id)
	return ok && host.State() == StateActive, nil
}

// Get returns a loaded plugin.
func (m *Manager) Get(id string) (*Host, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	host, ok := m.plugins[id]
	return host, ok
}

// Status summarizes one discovered plugin.
type Status struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Path        string `json:"path"`
	State       State  `json:"state"`
	Active      bool   `json:"active"`
	Hooks       int    `json:"hooks"`
	Error       string `json:"error,omitempty"`
}

// List returns the status of every discovered plugin, sorted by id.
// Call Discover or LoadAll first.
func (m *Manager) List() []Status {
	infos := sortedInfos(m.discoveredSnapshot())

	return lo.Map(infos, func(info *PluginInfo, _ int) Status {
		st := Status{ID: info.ID, Path: info.Path, State: StateUnloaded}
		if info.Manifest != nil {
			st.Name = info.Manifest.Name
			st.Version = info.Manifest.Version
			st.Description = info.Manifest.Description
			st.Hooks = len(info.Manifest.Hooks)
		}
		if info.Error != nil {
			st.State = StateError
			st.Error = info.Error.Error()
		}
		if host, ok := m.Get(info.ID); ok {
			st.State = host.State()
			if err := host.Err(); err != nil {
				st.Error = err.Error()
			}
		}
		st.Active, _ = m.IsActive(info.ID)
		return st
	})
}

func (m *Manager) discoveredSnapshot() map[string]*PluginInfo {
	m.loader.mu.RLock()
	defer m.loader.mu.RUnlock()

	out := make(map[string]*PluginInfo, len(m.loader.discovered))
	for id, info := range m.loader.discovered {
		out[id] = info
	}
	return out
}

// ListActive returns the ids of active plugins in load order.
func (m *Manager) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Filter(m.loadOrder, func(id string, _ int) bool {
		return m.plugins[id].State() == StateActive
	})
}

// Count returns the number of loaded plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.plugins)
}

// PluginForPath maps a file path to the id of the plugin that contains it.
func (m *Manager) PluginForPath(path string) (string, bool) {
	return m.loader.PluginForPath(path)
}

// fireLifecycle notifies lifecycle listeners. Their errors are logged only.
func (m *Manager) fireLifecycle(ctx context.Context, name string, host *Host) {
	_, err := m.registry.Fire(ctx, name, hook.Payload{
		"id":      host.ID(),
		"version": host.Manifest().Version,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("hook", name).Str("plugin", host.ID()).Msg("lifecycle hook failed")
	}
}
