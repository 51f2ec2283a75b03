// Package bridge provides the safety layer native extensions use to talk to
// a single-threaded, garbage-collected script engine. It enforces three
// disciplines the raw engine binding leaves to the caller: handles are only
// valid while their scope is open, heap operations require a Context minted
// for the current frame, and code on other threads reaches the engine only
// through a Channel.
//
// # Lifecycle
//
// A Runtime wraps one engine.Binding:
//
//	rt, err := bridge.Init(binding, bridge.Config{Tasks: true})
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	exports, err := rt.Module(func(cx *bridge.ModuleContext) error {
//		return cx.Export("greet", greet)
//	})
//
// Init probes the binding's capability tier and fails fast when the
// configuration asks for more than the binding provides.
//
// # Entry points
//
// An exported entry point receives a CallContext carrying the receiver and
// arguments as handles rooted in the frame's root scope:
//
//	func greet(cx *bridge.CallContext) (bridge.Handle, error) {
//		name, err := cx.StringValue(cx.Arg(0))
//		if err != nil {
//			return bridge.Handle{}, err
//		}
//		return cx.String("hello " + name)
//	}
//
// Returning an error (or calling Throw) raises an engine exception in the
// calling script. Handles die with the frame; a value that must outlive a
// nested scope is escaped into the parent with Scope.Escape or WithScope.
//
// # Threads
//
// Contexts and handles never cross goroutines. Background work sends
// closures through a Channel, which delivers them onto the engine's
// execution slot under a fresh TaskContext:
//
//	ch, _ := rt.NewChannel(0)
//	go func() {
//		result := compute()
//		ch.Send(func(cx *bridge.TaskContext) error {
//			h, err := cx.String(result)
//			...
//		})
//	}()
//
// Promises settle the same way: Context.NewPromise returns a Deferred whose
// Resolve and Reject marshal the settlement through the channel and settle
// exactly once.
package bridge
