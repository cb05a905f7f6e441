package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the number of calls an executor buffers.
const DefaultQueueSize = 64

// call is a queued Lua operation.
type call struct {
	ctx    context.Context
	fn     func(s *State) error
	result chan error
}

// Executor serializes all operations on a State through a single goroutine.
//
// The context of each call is attached to the LState while the call runs,
// so cancelling it aborts the running Lua code at the next instruction.
//
//	exec := NewExecutor(state, WithTimeout(2*time.Second))
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	err := exec.Execute(ctx, func(s *lua.State) error {
//	    _, err := s.Call("onLoad")
//	    return err
//	})
type Executor struct {
	state   *State
	queue   chan *call
	timeout time.Duration

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithQueueSize sets how many calls may wait for the executor.
func WithQueueSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.queue = make(chan *call, n)
		}
	}
}

// WithTimeout bounds every call. Zero disables the bound.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// NewExecutor creates an executor for s. Run must be started before Execute
// can make progress.
func NewExecutor(s *State, opts ...ExecutorOption) *Executor {
	e := &Executor{
		state: s,
		queue: make(chan *call, DefaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes queued calls until ctx is cancelled or Close is called.
// Calls still queued at that point fail.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			c.result <- e.run(c)
			close(c.result)
		}
	}
}

// run executes one call with its context attached to the LState.
func (e *Executor) run(c *call) (err error) {
	if err := c.ctx.Err(); err != nil {
		return err
	}

	L := e.state.L
	L.SetContext(c.ctx)
	defer L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return c.fn(e.state)
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
			close(c.result)
		default:
			return
		}
	}
}

// Execute queues fn and waits for it to finish.
//
// When ctx ends or the executor timeout expires first, the running Lua code
// is aborted and the context error, or ErrExecutionTimeout, is returned.
func (e *Executor) Execute(ctx context.Context, fn func(s *State) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	parent := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	c := &call{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return e.contextErr(parent, ctx)
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return e.contextErr(parent, ctx)
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		if err != nil && ctx.Err() != nil {
			return e.contextErr(parent, ctx)
		}
		return err
	}
}

// contextErr reports why ctx ended, distinguishing the executor timeout
// from the caller's own cancellation.
func (e *Executor) contextErr(parent, ctx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrExecutionTimeout, e.timeout)
	}
	return ctx.Err()
}

// Close stops the executor. Queued calls fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
