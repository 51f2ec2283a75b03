// Package engine defines the raw extension ABI surface the bridge builds on.
//
// The Binding interface is the external collaborator: an embedded,
// single-threaded, garbage-collected script engine exposed through its
// native-extension ABI. The bridge never touches an engine heap except
// through a Binding, and never calls a Binding except while holding the
// engine's single execution slot.
//
// # Capability Tiers
//
// ABI operations are versioned in cumulative tiers:
//
//	TierCore      values, properties, calls, marks, exceptions
//	TierDispatch  thread-safe wake callbacks (required for channels)
//	TierPromises  promise/deferred creation and settlement
//	TierBigInt    arbitrary-precision integers
//
// Capabilities above TierCore are optional interfaces discovered by type
// assertion (Dispatcher, PromiseBinding, BigIntBinding). TierOf probes a
// binding; Require fails fast with an unsupported_capability error:
//
//	if err := engine.Require(b, engine.TierPromises, "deferred settlement"); err != nil {
//	    return err
//	}
//
// Restrict caps a binding at a lower tier, which is useful for exercising
// fail-fast paths against a fully capable test engine.
//
// # Reference Binding
//
// The enginelocal subpackage provides Local, an in-process reference
// implementation of the full surface, used by the bridge's own tests and as
// a template for real bindings.
package engine
