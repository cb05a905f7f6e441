package hook

import (
	"errors"
	"fmt"
)

// Sentinel errors for the hook registry.
var (
	// ErrInvalidHandlerID is returned when registering with an empty handler id.
	ErrInvalidHandlerID = errors.New("handler id cannot be empty")

	// ErrInvalidHook is returned when registering under an empty hook name.
	ErrInvalidHook = errors.New("hook name cannot be empty")

	// ErrNilMethod is returned when registering a nil method.
	ErrNilMethod = errors.New("method cannot be nil")

	// ErrHandlerTimeout is returned by methods wrapped with WithTimeout.
	ErrHandlerTimeout = errors.New("hook handler timed out")

	// ErrHandlerPanic matches any *PanicError.
	ErrHandlerPanic = errors.New("hook handler panicked")
)

// PanicError wraps a panic raised by a handler.
type PanicError struct {
	// Hook is the hook being fired.
	Hook string

	// HandlerID is the owner of the panicking handler.
	HandlerID string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace captured at recovery.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if e.Hook == "" {
		return fmt.Sprintf("hook handler panic: %v", e.Value)
	}
	return fmt.Sprintf("handler %q panicked on hook %s: %v", e.HandlerID, e.Hook, e.Value)
}

// Is allows errors.Is to match PanicError with ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
