package plugin

// State is the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateUnloaded - discovered, no Lua state exists.
	StateUnloaded State = iota

	// StateLoaded - entry file executed, hooks not registered.
	StateLoaded

	// StateActivating - activate() is running.
	StateActivating

	// StateActive - hooks are registered and firing.
	StateActive

	// StateDeactivating - hooks are being removed.
	StateDeactivating

	// StateError - loading or activation failed.
	StateError
)

var stateNames = [...]string{
	StateUnloaded:     "unloaded",
	StateLoaded:       "loaded",
	StateActivating:   "activating",
	StateActive:       "active",
	StateDeactivating: "deactivating",
	StateError:        "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsUsable reports whether the plugin's Lua state can run code.
func (s State) IsUsable() bool {
	return s == StateLoaded || s == StateActive
}
