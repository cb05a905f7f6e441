package lua

import (
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// installLogModule exposes logger to Lua as the global table log with
// debug, info, warn and error functions. Each takes a message and an
// optional table of fields:
//
//	log.info("post parsed", { pid = data.pid })
func installLogModule(L *lua.LState, logger zerolog.Logger) {
	bridge := NewBridge(L)

	levelFunc := func(level zerolog.Level) lua.LGFunction {
		return func(L *lua.LState) int {
			msg := L.CheckString(1)
			ev := logger.WithLevel(level)
			if fields, ok := bridge.ToMap(L.Get(2)); ok && len(fields) > 0 {
				ev = ev.Fields(fields)
			}
			ev.Msg(msg)
			return 0
		}
	}

	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": levelFunc(zerolog.DebugLevel),
		"info":  levelFunc(zerolog.InfoLevel),
		"warn":  levelFunc(zerolog.WarnLevel),
		"error": levelFunc(zerolog.ErrorLevel),
	})
	L.SetGlobal("log", mod)
}
