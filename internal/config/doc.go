// Package config loads the hookwire configuration.
//
// Configuration is built from three layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← HOOKWIRE_LOG_LEVEL=debug
//	├─────────────────────────────┤
//	│  2. Config File             │  ← hookwire.toml / hookwire.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │
//	└─────────────────────────────┘
//
// Layers are read into maps by the loader sub-package, merged with
// loader.DeepMerge and decoded into Config. Durations are written as Go
// duration strings ("250ms", "5s"); bare numbers are seconds.
//
// # Example
//
//	[plugins]
//	paths = ["./plugins"]
//	active = ["hookwire-plugin-markdown"]
//	watch = true
//
//	[hooks]
//	staticTimeout = "5s"
//
//	[hooks.deprecated]
//	"filter:post.parse" = "filter:parse.post"
//
//	[log]
//	level = "debug"
//	format = "json"
//
// Environment variables use the HOOKWIRE_ prefix. HOOKWIRE_SECTION_SOME_NAME
// sets section.someName; HOOKWIRE_PLUGIN_PATHS is split on the OS path list
// separator and HOOKWIRE_PLUGINS_ACTIVE on commas.
package config
