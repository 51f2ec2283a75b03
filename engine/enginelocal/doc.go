// Package enginelocal provides Local, an in-process reference implementation
// of the full engine ABI surface.
//
// Local exists so the bridge can be exercised without a real script engine:
// it implements every capability tier (engine.Binding, engine.Dispatcher,
// engine.PromiseBinding, engine.BigIntBinding) plus engine.Reporter, with the
// semantics the bridge depends on made observable:
//
//   - A generation-checked slab heap: using a collected value fails with an
//     invalid_value error rather than reading reused memory.
//   - Strictly LIFO handle-scope marks; closing a mark unroots its values and
//     runs a mark-sweep collection over property, element, and promise edges.
//   - A pending-exception slot with throw/inspect/clear.
//   - A single-goroutine event loop with thread-safe dispatch registration,
//     ref counting (Alive), and WaitIdle for joining in tests.
//
// Local does not interpret a script language; function values wrap Go
// closures, which is exactly the shape of native entry points registered
// through the bridge.
//
// The execution slot is explicit: wrap top-level calls into the engine in
// Enter. Dispatched callbacks and finalizers already run under it.
package enginelocal
