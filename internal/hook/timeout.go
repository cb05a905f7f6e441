package hook

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// WithTimeout returns a method that fails with ErrHandlerTimeout when m does
// not complete within d. The context passed to m is cancelled at the deadline.
// A non-positive d returns m unchanged.
//
// The returned method is a new pointer: unregister it, not m.
func WithTimeout(m *Method, d time.Duration) *Method {
	if m == nil || d <= 0 {
		return m
	}
	return &Method{name: m.name, style: m.style, invoke: func(ctx context.Context, p Payload) (Payload, error) {
		r, timedOut := runBounded(ctx, m, p, d)
		if timedOut {
			return nil, fmt.Errorf("%w after %s", ErrHandlerTimeout, d)
		}
		return r.Payload, r.Err
	}}
}

// WithSoftTimeout returns a method that gives up on m after d, logs a warning
// and lets the chain continue with the payload it was given.
// A handler that times out never affects the chain's payload.
// A non-positive d returns m unchanged.
func WithSoftTimeout(m *Method, d time.Duration, logger zerolog.Logger) *Method {
	if m == nil || d <= 0 {
		return m
	}
	return &Method{name: m.name, style: m.style, invoke: func(ctx context.Context, p Payload) (Payload, error) {
		r, timedOut := runBounded(ctx, m, p, d)
		if timedOut {
			logger.Warn().
				Str("method", m.name).
				Dur("timeout", d).
				Msg("hook handler timed out, continuing")
			return nil, nil
		}
		return r.Payload, r.Err
	}}
}

// runBounded runs m on its own goroutine and waits at most d.
// timedOut is true only when the deadline, not the parent context, expired.
// m works on a deep copy of p so that a handler still running after the
// deadline cannot write to a map the caller or later handlers hold.
func runBounded(parent context.Context, m *Method, p Payload, d time.Duration) (r Result, timedOut bool) {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	own := p.DeepClone()
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- Result{Err: &PanicError{Value: rec, Stack: string(debug.Stack())}}
			}
		}()
		out, err := m.invoke(ctx, own)
		ch <- Result{Payload: out, Err: err}
	}()

	select {
	case r = <-ch:
		return r, false
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return Result{Err: err}, false
		}
		return Result{}, true
	}
}
