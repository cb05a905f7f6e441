package hook

import (
	"context"
	"strings"
	"sync"
)

// Kind is the hook category encoded in the hook name prefix.
type Kind int

// Hook kinds.
const (
	// KindUnknown is a hook without a recognised prefix.
	// It fires with action semantics.
	KindUnknown Kind = iota

	// KindFilter hooks thread a payload through every handler.
	KindFilter

	// KindAction hooks notify handlers of an event.
	KindAction

	// KindStatic hooks run awaited side effects, typically at startup.
	KindStatic
)

// String returns the prefix used for the kind.
func (k Kind) String() string {
	switch k {
	case KindFilter:
		return "filter"
	case KindAction:
		return "action"
	case KindStatic:
		return "static"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of the named hook.
func KindOf(hook string) Kind {
	prefix, _, found := strings.Cut(hook, ":")
	if !found {
		return KindUnknown
	}
	switch prefix {
	case "filter":
		return KindFilter
	case "action":
		return KindAction
	case "static":
		return KindStatic
	default:
		return KindUnknown
	}
}

// Payload is the data passed through a hook chain.
// The expected fields are agreed between the code firing a hook and the
// handlers attached to it.
type Payload map[string]any

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// DeepClone copies the payload along with any nested Payload,
// map[string]any and []any values. Other values are shared.
func (p Payload) DeepClone() Payload {
	if p == nil {
		return nil
	}
	return Payload(cloneMap(p))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		if val == nil {
			return val
		}
		return Payload(cloneMap(val))
	case map[string]any:
		if val == nil {
			return val
		}
		return cloneMap(val)
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

// Result is the outcome of one handler invocation.
type Result struct {
	Payload Payload
	Err     error
}

// Done completes a callback-style handler. Only the first call counts.
type Done func(err error, result Payload)

// Style identifies the calling convention a Method was built from.
type Style int

// Calling conventions.
const (
	StyleFunc Style = iota
	StyleCallback
	StyleAsync
)

// String returns a short name for the style.
func (s Style) String() string {
	switch s {
	case StyleFunc:
		return "func"
	case StyleCallback:
		return "callback"
	case StyleAsync:
		return "async"
	default:
		return "unknown"
	}
}

// invokeFunc is the single internal handler contract every adapter reduces to.
type invokeFunc func(ctx context.Context, p Payload) (Payload, error)

// Method is a registered hook handler.
// Methods are compared by pointer identity.
type Method struct {
	name   string
	style  Style
	invoke invokeFunc
}

// Func builds a method from a function returning the (possibly new) payload.
// A nil result keeps the previous payload in filter chains.
func Func(fn func(ctx context.Context, p Payload) (Payload, error)) *Method {
	if fn == nil {
		return nil
	}
	return &Method{style: StyleFunc, invoke: fn}
}

// Action builds a method for handlers that never transform the payload.
func Action(fn func(ctx context.Context, p Payload) error) *Method {
	if fn == nil {
		return nil
	}
	return &Method{style: StyleFunc, invoke: func(ctx context.Context, p Payload) (Payload, error) {
		return nil, fn(ctx, p)
	}}
}

// Callback builds a method from an error-first callback handler.
// The handler may call done synchronously or from another goroutine.
// The chain waits for done or for ctx to be cancelled.
func Callback(fn func(ctx context.Context, p Payload, done Done)) *Method {
	if fn == nil {
		return nil
	}
	return &Method{style: StyleCallback, invoke: func(ctx context.Context, p Payload) (Payload, error) {
		ch := make(chan Result, 1)
		var once sync.Once
		fn(ctx, p, func(err error, result Payload) {
			once.Do(func() {
				ch <- Result{Payload: result, Err: err}
			})
		})

		select {
		case r := <-ch:
			return r.Payload, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

// Async builds a method from a handler that delivers its result on a channel.
// A nil channel, or one closed without a value, completes with no result.
func Async(fn func(ctx context.Context, p Payload) <-chan Result) *Method {
	if fn == nil {
		return nil
	}
	return &Method{style: StyleAsync, invoke: func(ctx context.Context, p Payload) (Payload, error) {
		ch := fn(ctx, p)
		if ch == nil {
			return nil, nil
		}

		select {
		case r, ok := <-ch:
			if !ok {
				return nil, nil
			}
			return r.Payload, r.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

// Named sets a label used in logs and listings and returns m.
func (m *Method) Named(name string) *Method {
	m.name = name
	return m
}

// Name returns the method label.
func (m *Method) Name() string {
	return m.name
}

// Style returns the calling convention the method was built from.
func (m *Method) Style() Style {
	return m.style
}
