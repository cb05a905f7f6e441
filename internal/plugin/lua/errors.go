package lua

import (
	"errors"
	"fmt"
)

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutorClosed is returned when attempting to use a closed executor.
	ErrExecutorClosed = errors.New("lua executor is closed")

	// ErrExecutionTimeout is returned when a call exceeds the executor timeout.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrUnknownCapability is returned when granting a capability that does not exist.
	ErrUnknownCapability = errors.New("unknown capability")
)

// ScriptError is an error raised by Lua code, either through error() or a
// runtime fault.
type ScriptError struct {
	// Message is the Lua error value, usually prefixed with chunk:line.
	Message string

	// Traceback is the Lua stack at the point of failure.
	Traceback string

	// Cause is set when the error originated in Go code called from Lua.
	Cause error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// FunctionError is returned when a called global is not a function.
type FunctionError struct {
	Name string
	Got  string
}

func (e *FunctionError) Error() string {
	if e.Got == "nil" {
		return fmt.Sprintf("function %q not found", e.Name)
	}
	return fmt.Sprintf("%q is not a function (got %s)", e.Name, e.Got)
}
