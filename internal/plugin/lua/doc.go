// Package lua runs plugin scripts on gopher-lua.
//
// A State is a sandboxed LState with the base, table, string and math
// libraries, a log module backed by zerolog and a restricted os table.
// dofile, loadfile, load, loadstring, require and module are removed, so a
// plugin is exactly the code in its entry file.
//
// # Executor
//
// LState is not goroutine-safe. An Executor owns a State and runs every call
// on one goroutine. The caller's context is attached to the LState while a
// call runs, so a cancelled fire aborts the Lua code as well:
//
//	state, _ := lua.NewState(lua.WithLogger(logger))
//	exec := lua.NewExecutor(state, lua.WithTimeout(time.Second))
//	go exec.Run(ctx)
//
//	err := exec.Execute(ctx, func(s *lua.State) error {
//	    return s.DoFile("init.lua")
//	})
//
// # Bridge
//
// Bridge converts payloads between Go maps and Lua tables. Lua numbers come
// back as int64 when integral and float64 otherwise.
//
// # Capabilities
//
// Plugins request extra functions through their manifest:
//   - filesystem.read: io.readfile and io.lines below the plugin directory
//   - env: os.getenv
//   - unsafe: the full io, os and debug libraries
package lua
