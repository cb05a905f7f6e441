package hook

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Registration describes a handler to attach to a hook.
type Registration struct {
	Hook   string
	Method *Method
}

// Listener describes one entry of a hook chain.
type Listener struct {
	ID        string
	HandlerID string
	Method    string
	Style     Style
}

// Deprecation marks a hook that should no longer be used.
type Deprecation struct {
	// Alternative is the hook to use instead. Empty when there is none.
	Alternative string

	// Since is the version that deprecated the hook.
	Since string
}

// entry is one registered handler.
type entry struct {
	id        string
	handlerID string
	method    *Method
}

// Registry holds hook registrations and fires hooks.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	// hooks maps a hook name to its handlers in registration order
	hooks map[string][]*entry

	deprecated map[string]Deprecation

	logger zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and failure messages.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		hooks:      make(map[string][]*entry),
		deprecated: make(map[string]Deprecation),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends a handler to the hook named in reg.
// It returns the id assigned to the new entry.
func (r *Registry) Register(handlerID string, reg Registration) (string, error) {
	if handlerID == "" {
		return "", ErrInvalidHandlerID
	}
	if reg.Hook == "" {
		return "", ErrInvalidHook
	}
	if reg.Method == nil {
		return "", ErrNilMethod
	}

	e := &entry{
		id:        uuid.NewString(),
		handlerID: handlerID,
		method:    reg.Method,
	}

	r.mu.Lock()
	r.hooks[reg.Hook] = append(r.hooks[reg.Hook], e)
	dep, isDeprecated := r.deprecated[reg.Hook]
	r.mu.Unlock()

	if isDeprecated {
		ev := r.logger.Warn().
			Str("hook", reg.Hook).
			Str("handler", handlerID)
		if dep.Alternative != "" {
			ev = ev.Str("alternative", dep.Alternative)
		}
		if dep.Since != "" {
			ev = ev.Str("since", dep.Since)
		}
		ev.Msg("registered handler for deprecated hook")
	}

	if KindOf(reg.Hook) == KindUnknown {
		r.logger.Debug().Str("hook", reg.Hook).Msg("hook has no known prefix, it will fire as an action")
	}

	r.logger.Debug().
		Str("hook", reg.Hook).
		Str("handler", handlerID).
		Str("id", e.id).
		Str("style", reg.Method.style.String()).
		Msg("hook registered")

	return e.id, nil
}

// Unregister removes the first entry of hook owned by handlerID whose method
// is m. It returns false when nothing matched.
func (r *Registry) Unregister(handlerID, hook string, m *Method) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.hooks[hook]
	for i, e := range entries {
		if e.handlerID == handlerID && e.method == m {
			// Build a new slice so snapshots taken by in-flight fires stay intact
			rest := make([]*entry, 0, len(entries)-1)
			rest = append(rest, entries[:i]...)
			rest = append(rest, entries[i+1:]...)
			r.setLocked(hook, rest)
			return true
		}
	}
	return false
}

// UnregisterAll removes every entry owned by handlerID.
// It returns the number of entries removed.
func (r *Registry) UnregisterAll(handlerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for hook, entries := range r.hooks {
		kept := lo.Reject(entries, func(e *entry, _ int) bool {
			return e.handlerID == handlerID
		})
		if len(kept) != len(entries) {
			removed += len(entries) - len(kept)
			r.setLocked(hook, kept)
		}
	}

	if removed > 0 {
		r.logger.Debug().Str("handler", handlerID).Int("removed", removed).Msg("handler unregistered")
	}
	return removed
}

// setLocked stores entries for hook, dropping the hook when empty.
// Must be called with mu held.
func (r *Registry) setLocked(hook string, entries []*entry) {
	if len(entries) == 0 {
		delete(r.hooks, hook)
		return
	}
	r.hooks[hook] = entries
}

// HasListeners reports whether hook has at least one handler.
func (r *Registry) HasListeners(hook string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[hook]) > 0
}

// Hooks returns the names of all hooks with listeners, sorted.
func (r *Registry) Hooks() []string {
	r.mu.RLock()
	names := lo.Keys(r.hooks)
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Listeners returns the handlers of hook in firing order.
func (r *Registry) Listeners(hook string) []Listener {
	return lo.Map(r.snapshot(hook), func(e *entry, _ int) Listener {
		return Listener{
			ID:        e.id,
			HandlerID: e.handlerID,
			Method:    e.method.name,
			Style:     e.method.style,
		}
	})
}

// Count returns the total number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entries := range r.hooks {
		n += len(entries)
	}
	return n
}

// Deprecate marks hook as deprecated. Later registrations log a warning.
func (r *Registry) Deprecate(hook string, d Deprecation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deprecated[hook] = d
}

// Deprecation returns the deprecation recorded for hook, if any.
func (r *Registry) Deprecation(hook string) (Deprecation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deprecated[hook]
	return d, ok
}

// Reset removes every registration. Deprecations are kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = make(map[string][]*entry)
}

// snapshot copies the handler list of hook under the read lock.
func (r *Registry) snapshot(hook string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.hooks[hook]
	out := make([]*entry, len(entries))
	copy(out, entries)
	return out
}
