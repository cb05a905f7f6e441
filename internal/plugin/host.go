package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/hookwire/internal/hook"
	plua "github.com/dshills/hookwire/internal/plugin/lua"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// Host runs one plugin: its Lua state, the executor that serializes calls
// into it, and its lifecycle.
//
// The entry file may define these optional globals:
//
//	function activate(settings) end   -- after load, before hooks are registered
//	function deactivate() end         -- after hooks are removed
//
// and must define every function named in the manifest hooks.
type Host struct {
	mu sync.RWMutex

	id       string
	manifest *Manifest
	settings map[string]any
	logger   zerolog.Logger

	executionTimeout time.Duration
	queueSize        int

	state   *plua.State
	exec    *plua.Executor
	bridge  *plua.Bridge
	stop    context.CancelFunc
	runDone chan struct{}

	pluginState State
	err         error
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the logger used by the host and the Lua log module.
func WithHostLogger(logger zerolog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithHostExecutionTimeout bounds every call into Lua. Zero disables it.
func WithHostExecutionTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		h.executionTimeout = d
	}
}

// WithHostQueueSize sets how many calls may wait for the plugin's executor.
func WithHostQueueSize(n int) HostOption {
	return func(h *Host) {
		h.queueSize = n
	}
}

// WithHostSettings overrides manifest setting defaults.
func WithHostSettings(settings map[string]any) HostOption {
	return func(h *Host) {
		for k, v := range settings {
			h.settings[k] = v
		}
	}
}

// NewHost creates a host for manifest. Nothing runs until Load.
func NewHost(manifest *Manifest, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	h := &Host{
		id:          manifest.ID,
		manifest:    manifest,
		settings:    make(map[string]any, len(manifest.Settings)),
		logger:      zerolog.Nop(),
		queueSize:   plua.DefaultQueueSize,
		pluginState: StateUnloaded,
	}
	for k, v := range manifest.Settings {
		h.settings[k] = v
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("plugin", h.id).Logger()

	return h, nil
}

// ID returns the plugin id.
func (h *Host) ID() string {
	return h.id
}

// Manifest returns the plugin manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pluginState
}

// Err returns the error that moved the plugin to StateError, or the last
// deactivate failure.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Settings returns a copy of the effective settings.
func (h *Host) Settings() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]any, len(h.settings))
	for k, v := range h.settings {
		out[k] = v
	}
	return out
}

// Load creates the Lua state, runs the entry file and checks that every
// manifest hook method exists.
func (h *Host) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pluginState != StateUnloaded {
		return ErrAlreadyLoaded
	}

	if err := h.start(); err != nil {
		return h.failLocked(err)
	}

	err := h.exec.Execute(ctx, func(s *plua.State) error {
		s.SetGlobal("plugin", h.bridge.ToLuaValue(map[string]any{
			"id":      h.id,
			"version": h.manifest.Version,
		}))

		if err := s.DoFile(h.manifest.MainPath()); err != nil {
			return fmt.Errorf("load %s: %w", h.manifest.Main, err)
		}

		for _, name := range h.manifest.Methods() {
			if !s.HasFunction(name) {
				return fmt.Errorf("%w: %s", ErrMissingMethod, name)
			}
		}
		return nil
	})
	if err != nil {
		h.shutdownLocked()
		return h.failLocked(err)
	}

	h.pluginState = StateLoaded
	h.err = nil
	h.logger.Debug().Str("main", h.manifest.MainPath()).Msg("plugin loaded")
	return nil
}

// start creates the state and runs its executor.
func (h *Host) start() error {
	state, err := plua.NewState(plua.WithLogger(h.logger))
	if err != nil {
		return err
	}

	sandbox := state.Sandbox()
	sandbox.SetRoot(h.manifest.Path())
	for _, name := range h.manifest.Capabilities {
		if err := sandbox.Grant(plua.Capability(name)); err != nil {
			_ = state.Close()
			return err
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	h.state = state
	h.bridge = plua.NewBridge(state.L)
	h.exec = plua.NewExecutor(state,
		plua.WithQueueSize(h.queueSize),
		plua.WithTimeout(h.executionTimeout),
	)
	h.stop = stop
	h.runDone = make(chan struct{})

	go func(exec *plua.Executor, done chan struct{}) {
		defer close(done)
		exec.Run(runCtx)
	}(h.exec, h.runDone)

	return nil
}

// shutdownLocked stops the executor and closes the state.
// Must be called with mu held.
func (h *Host) shutdownLocked() {
	if h.exec == nil {
		return
	}
	h.exec.Close()
	h.stop()
	<-h.runDone
	_ = h.state.Close()

	h.exec = nil
	h.state = nil
	h.bridge = nil
	h.stop = nil
	h.runDone = nil
}

func (h *Host) failLocked(err error) error {
	h.pluginState = StateError
	h.err = err
	h.logger.Warn().Err(err).Msg("plugin failed")
	return err
}

// Activate calls activate(settings) when the plugin defines it.
func (h *Host) Activate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pluginState != StateLoaded {
		return fmt.Errorf("activate %s: %w", h.id, ErrNotLoaded)
	}
	h.pluginState = StateActivating

	err := h.exec.Execute(ctx, func(s *plua.State) error {
		if !s.HasFunction("activate") {
			return nil
		}
		_, err := s.Call("activate", h.bridge.ToLuaValue(h.settings))
		return err
	})
	if err != nil {
		return h.failLocked(fmt.Errorf("activate %s: %w", h.id, err))
	}

	h.pluginState = StateActive
	h.err = nil
	return nil
}

// Deactivate calls deactivate() when the plugin defines it. A failing
// deactivate is recorded but the plugin still returns to StateLoaded.
func (h *Host) Deactivate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deactivateLocked(ctx)
}

func (h *Host) deactivateLocked(ctx context.Context) error {
	if h.pluginState != StateActive {
		return nil
	}
	h.pluginState = StateDeactivating

	err := h.exec.Execute(ctx, func(s *plua.State) error {
		if !s.HasFunction("deactivate") {
			return nil
		}
		_, err := s.Call("deactivate")
		return err
	})

	h.pluginState = StateLoaded
	if err != nil {
		h.err = fmt.Errorf("deactivate %s: %w", h.id, err)
		h.logger.Warn().Err(err).Msg("plugin deactivate failed")
		return h.err
	}
	return nil
}

// Unload deactivates the plugin if needed and releases the Lua state.
func (h *Host) Unload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pluginState == StateUnloaded {
		return nil
	}

	err := h.deactivateLocked(ctx)
	h.shutdownLocked()
	h.pluginState = StateUnloaded
	return err
}

// CallHook calls the global Lua function fn with the payload as a table.
//
// A table returned by fn becomes the new payload. Any other return value
// yields a nil payload, which keeps the previous payload in filter chains.
// A Lua error aborts with that error.
func (h *Host) CallHook(ctx context.Context, fn string, p hook.Payload) (hook.Payload, error) {
	h.mu.RLock()
	exec, bridge := h.exec, h.bridge
	usable := h.pluginState.IsUsable() || h.pluginState == StateActivating || h.pluginState == StateDeactivating
	h.mu.RUnlock()

	if exec == nil || !usable {
		return nil, fmt.Errorf("call %s.%s: %w", h.id, fn, ErrNotLoaded)
	}

	var out hook.Payload
	err := exec.Execute(ctx, func(s *plua.State) error {
		results, err := s.Call(fn, bridge.ToLuaValue(map[string]any(p)))
		if err != nil {
			return err
		}
		if len(results) == 0 || results[0] == lua.LNil {
			return nil
		}

		m, ok := bridge.ToMap(results[0])
		if !ok {
			h.logger.Debug().
				Str("method", fn).
				Str("type", results[0].Type().String()).
				Msg("ignoring non-table hook result")
			return nil
		}
		out = hook.Payload(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasFunction reports whether the loaded plugin defines the global function name.
func (h *Host) HasFunction(name string) bool {
	h.mu.RLock()
	state := h.state
	h.mu.RUnlock()

	return state != nil && state.HasFunction(name)
}
