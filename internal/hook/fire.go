package hook

import (
	"context"
	"errors"
	"runtime/debug"
	"time"
)

// Fire runs every handler of hook in registration order.
//
// For filter hooks the payload returned by each handler feeds the next one
// and the final payload is returned. For other kinds the handlers receive
// data and Fire returns a nil payload.
//
// The first handler error stops the chain and is returned as is. Panics are
// recovered and returned as *PanicError. A hook without listeners completes
// immediately: filters return data unchanged.
func (r *Registry) Fire(ctx context.Context, hook string, data Payload) (Payload, error) {
	kind := KindOf(hook)
	entries := r.snapshot(hook)

	if len(entries) == 0 {
		if kind == KindFilter {
			return data, nil
		}
		return nil, nil
	}

	if kind == KindUnknown {
		r.logger.Debug().Str("hook", hook).Msg("firing hook without a known prefix as an action")
	}

	start := time.Now()
	current := data
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.call(ctx, hook, current)
		if err != nil {
			r.logger.Debug().
				Err(err).
				Str("hook", hook).
				Str("handler", e.handlerID).
				Int("index", i).
				Msg("hook handler failed")
			return nil, err
		}

		if kind == KindFilter && result != nil {
			current = result
		}
	}

	r.logger.Trace().
		Str("hook", hook).
		Int("handlers", len(entries)).
		Dur("elapsed", time.Since(start)).
		Msg("hook fired")

	if kind == KindFilter {
		return current, nil
	}
	return nil, nil
}

// FireFunc runs the chain on a new goroutine and reports the outcome to cb.
// cb is called exactly once.
func (r *Registry) FireFunc(ctx context.Context, hook string, data Payload, cb func(Payload, error)) {
	go func() {
		p, err := r.Fire(ctx, hook, data)
		if cb != nil {
			cb(p, err)
		}
	}()
}

// call invokes the entry's method, converting a panic into a *PanicError.
func (e *entry) call(ctx context.Context, hook string, p Payload) (result Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{
				Hook:      hook,
				HandlerID: e.handlerID,
				Value:     rec,
				Stack:     string(debug.Stack()),
			}
		}
	}()

	result, err = e.method.invoke(ctx, p)

	// Panics recovered inside timeout wrappers carry no hook context yet
	var pe *PanicError
	if errors.As(err, &pe) && pe.Hook == "" {
		pe.Hook = hook
		pe.HandlerID = e.handlerID
	}
	return result, err
}
