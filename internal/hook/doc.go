// Package hook provides the plugin hook dispatcher.
//
// A hook is a named extension point. The prefix of the name selects how the
// handlers attached to it are treated:
//
//	filter:post.create   handlers transform the payload; each result feeds the next handler
//	action:user.login    handlers react to the event; results are ignored
//	static:app.load      like action, conventionally awaited during startup
//
// Handlers are attached with Register and run in registration order when the
// hook fires. There is no priority: the order of Register calls is the only
// sequencing control.
//
// # Handler conventions
//
// Every handler is a *Method. Methods are built once, at registration time,
// by one of the adapters:
//
//	hook.Func(func(ctx context.Context, p hook.Payload) (hook.Payload, error) { ... })
//	hook.Action(func(ctx context.Context, p hook.Payload) error { ... })
//	hook.Callback(func(ctx context.Context, p hook.Payload, done hook.Done) { ... })
//	hook.Async(func(ctx context.Context, p hook.Payload) <-chan hook.Result { ... })
//
// A *Method is compared by pointer. Registering the same method twice creates
// two chain entries, and Unregister removes the first entry holding that
// exact pointer.
//
// # Firing
//
//	reg := hook.NewRegistry()
//	reg.Register("markdown", hook.Registration{
//	    Hook:   "filter:parse.post",
//	    Method: hook.Func(renderMarkdown),
//	})
//
//	out, err := reg.Fire(ctx, "filter:parse.post", hook.Payload{"content": raw})
//
// Fire runs handlers strictly one after another. The first error stops the
// chain and is returned unchanged. A filter handler that returns a nil
// payload keeps the previous one. Firing a hook with no listeners is not an
// error: filters return the input payload and other kinds return nil.
//
// FireFunc offers the same pipeline with a completion callback.
//
// # Timeouts
//
// The dispatcher itself never times a handler out. Callers that need a bound
// either pass a context with a deadline to Fire or wrap individual methods
// with WithTimeout or WithSoftTimeout before registering them.
package hook
