package plugin

import "errors"

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidPluginID is returned for ids that are not plugin ids.
	ErrInvalidPluginID = errors.New("invalid plugin id")

	// ErrNoManifest is returned when a directory has no plugin manifest.
	ErrNoManifest = errors.New("no plugin manifest (plugin.json or plugin.yaml)")

	// ErrNilManifest is returned when a nil manifest is provided.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrAlreadyLoaded is returned when attempting to load an already loaded plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotLoaded is returned when attempting to use an unloaded plugin.
	ErrNotLoaded = errors.New("plugin is not loaded")

	// ErrMissingMethod is returned when a manifest hook names a function the
	// plugin does not define.
	ErrMissingMethod = errors.New("hook method is not defined")

	// ErrActiveSetInConfig is returned when toggling a plugin while the
	// active set is fixed by configuration.
	ErrActiveSetInConfig = errors.New("active plugins are set in configuration")
)

// Manifest validation errors.
var (
	ErrMissingID         = errors.New("manifest: id is required")
	ErrInvalidVersion    = errors.New("manifest: version must be valid semver")
	ErrInvalidMain       = errors.New("manifest: main must be a .lua file inside the plugin")
	ErrInvalidCapability = errors.New("manifest: invalid capability")
	ErrInvalidHook       = errors.New("manifest: invalid hook")
	ErrInvalidMethod     = errors.New("manifest: method must be a Lua identifier")
)
