package lua

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func startExecutor(t *testing.T, s *State, opts ...ExecutorOption) *Executor {
	t.Helper()
	exec := NewExecutor(s, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		exec.Close()
		cancel()
		<-done
	})
	return exec
}

func TestNewExecutor_Options(t *testing.T) {
	s := newTestState(t)

	exec := NewExecutor(s)
	assert.Equal(t, DefaultQueueSize, cap(exec.queue))
	assert.Zero(t, exec.timeout)

	exec = NewExecutor(s, WithQueueSize(3), WithTimeout(time.Second))
	assert.Equal(t, 3, cap(exec.queue))
	assert.Equal(t, time.Second, exec.timeout)

	exec = NewExecutor(s, WithQueueSize(0))
	assert.Equal(t, DefaultQueueSize, cap(exec.queue))
}

func TestExecutor_Execute(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s)

	err := exec.Execute(context.Background(), func(s *State) error {
		return s.DoString(`counter = 41`)
	})
	require.NoError(t, err)

	var got lua.LValue
	err = exec.Execute(context.Background(), func(s *State) error {
		if err := s.DoString(`counter = counter + 1`); err != nil {
			return err
		}
		got = s.GetGlobal("counter")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(42), got)
}

func TestExecutor_SerializesConcurrentCalls(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s, WithQueueSize(4))
	require.NoError(t, exec.Execute(context.Background(), func(s *State) error {
		return s.DoString(`n = 0 function bump() n = n + 1 end`)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exec.Execute(context.Background(), func(s *State) error {
				_, err := s.Call("bump")
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n lua.LValue
	require.NoError(t, exec.Execute(context.Background(), func(s *State) error {
		n = s.GetGlobal("n")
		return nil
	}))
	assert.Equal(t, lua.LNumber(50), n)
}

func TestExecutor_TimeoutAbortsLua(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s, WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := exec.Execute(context.Background(), func(s *State) error {
		return s.DoString(`while true do end`)
	})
	assert.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The state is still usable after an aborted call
	err = exec.Execute(context.Background(), func(s *State) error {
		return s.DoString(`ok = true`)
	})
	require.NoError(t, err)
}

func TestExecutor_CallerCancellation(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s, WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := exec.Execute(ctx, func(s *State) error {
		return s.DoString(`while true do end`)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrExecutionTimeout)
}

func TestExecutor_AlreadyCancelled(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := exec.Execute(ctx, func(*State) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestExecutor_PanicRecovered(t *testing.T) {
	s := newTestState(t)
	exec := startExecutor(t, s)

	err := exec.Execute(context.Background(), func(*State) error {
		panic("bad host function")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad host function")

	assert.NoError(t, exec.Execute(context.Background(), func(*State) error { return nil }))
}

func TestExecutor_Closed(t *testing.T) {
	s := newTestState(t)
	exec := NewExecutor(s)
	exec.Close()
	exec.Close()

	assert.True(t, exec.IsClosed())
	err := exec.Execute(context.Background(), func(*State) error { return nil })
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutor_RunStopsOnClose(t *testing.T) {
	s := newTestState(t)
	exec := NewExecutor(s)

	done := make(chan struct{})
	go func() {
		exec.Run(context.Background())
		close(done)
	}()

	exec.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
