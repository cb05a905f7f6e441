package lua

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// State wraps a sandboxed gopher-lua state for one plugin.
//
// gopher-lua's LState is not goroutine-safe. The mutex guards calls made
// from Go, and an Executor should own the state when several goroutines
// fire hooks into the same plugin.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	sandbox *Sandbox
	logger  zerolog.Logger
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithLogger sets the logger behind the Lua log module.
func WithLogger(logger zerolog.Logger) StateOption {
	return func(s *State) {
		s.logger = logger
	}
}

// NewState creates a sandboxed Lua state with the base, table, string and
// math libraries and the log module.
func NewState(opts ...StateOption) (*State, error) {
	s := &State{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openLibs(L); err != nil {
		L.Close()
		return nil, err
	}

	s.L = L
	s.sandbox = NewSandbox(L)
	s.sandbox.Install()
	installLogModule(L, s.logger)

	return s, nil
}

func openLibs(L *lua.LState) error {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(pair.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(pair.name)); err != nil {
			return fmt.Errorf("open %s library: %w", pair.name, err)
		}
	}
	return nil
}

// DoFile executes a Lua file.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return recoverCall(func() error {
		return scriptError(s.L.DoFile(path))
	})
}

// DoString executes a chunk of Lua code.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return recoverCall(func() error {
		return scriptError(s.L.DoString(code))
	})
}

// Call calls a global Lua function and returns all of its results.
func (s *State) Call(name string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, &FunctionError{Name: name, Got: s.L.GetGlobal(name).Type().String()}
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	err := recoverCall(func() error {
		return scriptError(s.L.PCall(len(args), lua.MultRet, nil))
	})
	if err != nil {
		s.L.SetTop(top)
		return nil, err
	}

	n := s.L.GetTop() - top
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return results, nil
}

// HasFunction reports whether name is a global Lua function.
func (s *State) HasFunction(name string) bool {
	return s.GetGlobal(name).Type() == lua.LTFunction
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// Sandbox returns the sandbox used to grant capabilities.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// recoverCall runs fn, turning a Go panic raised inside the VM into an error.
func recoverCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("lua panic: %w", e)
				return
			}
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// scriptError converts a gopher-lua API error into a *ScriptError.
func scriptError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := ""
	if apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	return &ScriptError{
		Message:   msg,
		Traceback: apiErr.StackTrace,
		Cause:     apiErr.Cause,
	}
}
