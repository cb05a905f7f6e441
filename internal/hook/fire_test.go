package hook

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFunc(n int) *Method {
	return Func(func(_ context.Context, p Payload) (Payload, error) {
		p["foo"] = p["foo"].(int) + n
		return p, nil
	})
}

func addCallback(n int) *Method {
	return Callback(func(_ context.Context, p Payload, done Done) {
		p["foo"] = p["foo"].(int) + n
		done(nil, p)
	})
}

func addAsync(n int) *Method {
	return Async(func(_ context.Context, p Payload) <-chan Result {
		ch := make(chan Result, 1)
		go func() {
			p["foo"] = p["foo"].(int) + n
			ch <- Result{Payload: p}
		}()
		return ch
	})
}

func mustRegister(t *testing.T, r *Registry, handlerID, hook string, methods ...*Method) {
	t.Helper()
	for _, m := range methods {
		_, err := r.Register(handlerID, Registration{Hook: hook, Method: m})
		require.NoError(t, err)
	}
}

func TestFire_FilterAccumulates(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "test-plugin", "filter:test.hook", addCallback(1), addCallback(5))

	out, err := r.Fire(context.Background(), "filter:test.hook", Payload{"foo": 1})
	require.NoError(t, err)
	assert.Equal(t, 7, out["foo"])
}

func TestFire_ThreeStyleMix(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "test-plugin", "filter:test.hook2", addCallback(1), addAsync(5), addFunc(1))

	out, err := r.Fire(context.Background(), "filter:test.hook2", Payload{"foo": 1})
	require.NoError(t, err)
	assert.Equal(t, 8, out["foo"])
}

func TestFire_Ordering(t *testing.T) {
	styles := map[string]func(tag string, log *[]string) *Method{
		"func": func(tag string, log *[]string) *Method {
			return Func(func(_ context.Context, p Payload) (Payload, error) {
				*log = append(*log, tag)
				return p, nil
			})
		},
		"callback": func(tag string, log *[]string) *Method {
			return Callback(func(_ context.Context, p Payload, done Done) {
				*log = append(*log, tag)
				done(nil, p)
			})
		},
		"async": func(tag string, log *[]string) *Method {
			return Async(func(_ context.Context, p Payload) <-chan Result {
				ch := make(chan Result, 1)
				go func() {
					*log = append(*log, tag)
					ch <- Result{Payload: p}
				}()
				return ch
			})
		},
	}

	orders := [][]string{
		{"func", "callback", "async"},
		{"async", "func", "callback"},
		{"callback", "async", "func"},
	}

	for _, order := range orders {
		t.Run(order[0]+"-first", func(t *testing.T) {
			r := NewRegistry()
			var log []string
			for i, style := range order {
				tag := []string{"H1", "H2", "H3"}[i]
				mustRegister(t, r, "p", "filter:order", styles[style](tag, &log))
			}

			_, err := r.Fire(context.Background(), "filter:order", Payload{})
			require.NoError(t, err)
			assert.Equal(t, []string{"H1", "H2", "H3"}, log)
		})
	}
}

func TestFire_NilResultKeepsPayload(t *testing.T) {
	r := NewRegistry()
	forgetful := Func(func(_ context.Context, p Payload) (Payload, error) {
		p["foo"] = p["foo"].(int) + 1
		return nil, nil
	})
	silentCallback := Callback(func(_ context.Context, p Payload, done Done) {
		p["foo"] = p["foo"].(int) + 2
		done(nil, nil)
	})
	mustRegister(t, r, "test-plugin", "filter:test.hook3", forgetful, silentCallback, addFunc(1))

	out, err := r.Fire(context.Background(), "filter:test.hook3", Payload{"foo": 1})
	require.NoError(t, err)
	assert.Equal(t, 5, out["foo"])
}

func TestFire_HandlerMayReplacePayload(t *testing.T) {
	r := NewRegistry()
	replace := Func(func(_ context.Context, p Payload) (Payload, error) {
		return Payload{"foo": p["foo"].(int) * 10, "replaced": true}, nil
	})
	mustRegister(t, r, "p", "filter:replace", replace, addFunc(1))

	in := Payload{"foo": 2}
	out, err := r.Fire(context.Background(), "filter:replace", in)
	require.NoError(t, err)
	assert.Equal(t, 21, out["foo"])
	assert.Equal(t, true, out["replaced"])
	assert.Equal(t, 2, in["foo"])
}

func TestFire_AbortOnError(t *testing.T) {
	boom := errors.New("nope")

	failing := map[string]*Method{
		"func": Func(func(context.Context, Payload) (Payload, error) {
			return nil, boom
		}),
		"callback": Callback(func(_ context.Context, _ Payload, done Done) {
			done(boom, nil)
		}),
		"async": Async(func(context.Context, Payload) <-chan Result {
			ch := make(chan Result, 1)
			ch <- Result{Err: boom}
			return ch
		}),
	}

	for name, m := range failing {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry()
			var after atomic.Int32
			tail := Action(func(context.Context, Payload) error {
				after.Add(1)
				return nil
			})
			mustRegister(t, r, "test-plugin", "filter:test.hook4", addFunc(5), m, tail)

			out, err := r.Fire(context.Background(), "filter:test.hook4", Payload{"foo": 1})
			assert.Same(t, boom, err)
			assert.Nil(t, out)
			assert.Zero(t, after.Load())
		})
	}
}

func TestFire_StaticErrorSurfacesVerbatim(t *testing.T) {
	r := NewRegistry()
	m := Action(func(_ context.Context, p Payload) error {
		if p["bar"] != "test" {
			return errors.New("unexpected payload")
		}
		return errors.New("just because")
	})
	mustRegister(t, r, "test-plugin", "static:test.hook", m)

	_, err := r.Fire(context.Background(), "static:test.hook", Payload{"bar": "test"})
	require.Error(t, err)
	assert.Equal(t, "just because", err.Error())

	assert.True(t, r.Unregister("test-plugin", "static:test.hook", m))
}

func TestFire_PanicBecomesError(t *testing.T) {
	r := NewRegistry()
	var after atomic.Int32
	mustRegister(t, r, "crashy", "action:panic",
		Action(func(context.Context, Payload) error { panic("kaboom") }),
		Action(func(context.Context, Payload) error {
			after.Add(1)
			return nil
		}),
	)

	_, err := r.Fire(context.Background(), "action:panic", Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "action:panic", pe.Hook)
	assert.Equal(t, "crashy", pe.HandlerID)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Zero(t, after.Load())
}

func TestFire_NoListeners(t *testing.T) {
	r := NewRegistry()
	in := Payload{"foo": 1}

	out, err := r.Fire(context.Background(), "filter:nonexistent", in)
	require.NoError(t, err)
	assert.Equal(t, Payload{"foo": 1}, out)

	out, err = r.Fire(context.Background(), "action:nonexistent", in)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestFire_ActionReceivesPayloadAndReturnsNil(t *testing.T) {
	r := NewRegistry()
	var seen any
	mustRegister(t, r, "test-plugin", "action:test.hook",
		Func(func(_ context.Context, p Payload) (Payload, error) {
			seen = p["bar"]
			return Payload{"ignored": true}, nil
		}),
	)

	out, err := r.Fire(context.Background(), "action:test.hook", Payload{"bar": "test"})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, "test", seen)
}

func TestFire_UnknownKindActsAsAction(t *testing.T) {
	r := NewRegistry()
	calls := 0
	mustRegister(t, r, "p", "custom.hook", Func(func(context.Context, Payload) (Payload, error) {
		calls++
		return Payload{"x": 1}, nil
	}))

	out, err := r.Fire(context.Background(), "custom.hook", Payload{})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, calls)
}

func TestFire_ContextCancelledBetweenHandlers(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	var after atomic.Int32
	mustRegister(t, r, "p", "filter:cancel",
		Func(func(_ context.Context, p Payload) (Payload, error) {
			cancel()
			return p, nil
		}),
		Action(func(context.Context, Payload) error {
			after.Add(1)
			return nil
		}),
	)

	_, err := r.Fire(ctx, "filter:cancel", Payload{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, after.Load())
}

func TestFire_CallbackNeverCompletingStallsUntilContextDone(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "p", "static:stall", Callback(func(context.Context, Payload, Done) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Fire(ctx, "static:stall", Payload{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFire_DoneCalledTwiceUsesFirst(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "p", "filter:twice", Callback(func(_ context.Context, _ Payload, done Done) {
		done(nil, Payload{"foo": 1})
		done(errors.New("late"), Payload{"foo": 2})
	}))

	out, err := r.Fire(context.Background(), "filter:twice", Payload{})
	require.NoError(t, err)
	assert.Equal(t, 1, out["foo"])
}

func TestFire_AsyncClosedChannelKeepsPayload(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "p", "filter:closed",
		Async(func(context.Context, Payload) <-chan Result {
			ch := make(chan Result)
			close(ch)
			return ch
		}),
		Async(func(context.Context, Payload) <-chan Result { return nil }),
	)

	out, err := r.Fire(context.Background(), "filter:closed", Payload{"foo": 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out["foo"])
}

func TestFire_RegistrationDuringFireAffectsLaterFires(t *testing.T) {
	r := NewRegistry()
	late := addFunc(100)
	mustRegister(t, r, "p", "filter:grow", Func(func(_ context.Context, p Payload) (Payload, error) {
		if !p["registered"].(bool) {
			_, err := r.Register("p", Registration{Hook: "filter:grow", Method: late})
			p["registered"] = true
			return p, err
		}
		return p, nil
	}))

	out, err := r.Fire(context.Background(), "filter:grow", Payload{"foo": 0, "registered": false})
	require.NoError(t, err)
	assert.Equal(t, 0, out["foo"])

	out, err = r.Fire(context.Background(), "filter:grow", Payload{"foo": 0, "registered": true})
	require.NoError(t, err)
	assert.Equal(t, 100, out["foo"])
}

func TestFire_ConcurrentFires(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "p", "filter:par", addFunc(1), addAsync(2), addCallback(3))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Fire(context.Background(), "filter:par", Payload{"foo": i})
			assert.NoError(t, err)
			assert.Equal(t, i+6, out["foo"])
		}(i)
	}
	wg.Wait()
}

func TestFireFunc(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, "test-plugin", "filter:test.hook", addCallback(1), addCallback(5))

	type outcome struct {
		p   Payload
		err error
	}
	done := make(chan outcome, 1)
	r.FireFunc(context.Background(), "filter:test.hook", Payload{"foo": 1}, func(p Payload, err error) {
		done <- outcome{p, err}
	})

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, 7, o.p["foo"])
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestFireFunc_Error(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("just because")
	mustRegister(t, r, "test-plugin", "static:test.hook", Action(func(context.Context, Payload) error {
		return boom
	}))

	done := make(chan error, 1)
	r.FireFunc(context.Background(), "static:test.hook", Payload{"bar": "test"}, func(_ Payload, err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.Same(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestRegister_DeprecatedHookLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(WithLogger(zerolog.New(&buf)))
	r.Deprecate("filter:post.save", Deprecation{Alternative: "filter:post.create", Since: "1.2.0"})

	mustRegister(t, r, "legacy", "filter:post.save", noop())

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"alternative":"filter:post.create"`)
	assert.Contains(t, out, `"handler":"legacy"`)
}
