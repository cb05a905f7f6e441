// Package plugin loads Lua plugins and attaches their handlers to a hook
// registry.
//
// A plugin is a directory with a manifest and a Lua entry file:
//
//	plugins/
//	    hookwire-plugin-markdown/
//	        plugin.json
//	        init.lua
//	    @acme/
//	        hookwire-plugin-audit/
//	            plugin.yaml
//	            init.lua
//
// The manifest names the hooks the plugin handles and the global Lua
// function for each:
//
//	{
//	    "id": "hookwire-plugin-markdown",
//	    "version": "1.2.0",
//	    "hooks": [
//	        { "hook": "filter:parse.post", "method": "parsePost" },
//	        { "hook": "static:app.load", "method": "init" }
//	    ],
//	    "settings": { "html": false }
//	}
//
// A filter handler receives the payload as a table and returns the new
// payload, or nil to keep the current one. Calling error() aborts the chain:
//
//	function parsePost(data)
//	    data.content = render(data.content)
//	    return data
//	end
//
// # Lifecycle
//
// Manager moves each plugin through unloaded, loaded and active. Activation
// calls the optional activate(settings) function and registers the manifest
// hooks with the plugin id as handler id, so deactivation removes them with
// a single UnregisterAll. Handlers for static: hooks are bounded by
// ManagerConfig.StaticTimeout; one that overruns is abandoned with a warning
// and the chain continues.
//
// The manager fires action:plugin.activated, action:plugin.deactivated and
// action:plugin.reloaded through the same registry.
package plugin
