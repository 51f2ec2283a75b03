// Package enginebridge provides a safety layer for native Go extensions
// embedded in a single-threaded, garbage-collected script engine.
//
// The raw extension ABI of such an engine is easy to misuse: values are only
// valid while their handle scope is open, the heap may only be touched from
// the engine thread, and an exception left pending poisons every subsequent
// call. This library makes each of those rules either impossible to break or
// a checked, structured error.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	engine-bridge/       Root package with the architecture overview
//	├── engine/          Engine ABI surface: Binding interface, capability tiers
//	│   └── enginelocal/ In-process reference engine with an event loop
//	├── bridge/          Handles, scopes, contexts, channels, promises
//	├── task/            Background worker pool with engine-safe completion
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Initialize a runtime over an engine binding and register entry points:
//
//	rt, err := bridge.Init(binding, bridge.Config{Tasks: true})
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	exports, err := rt.Module(func(cx *bridge.ModuleContext) error {
//		return cx.Export("hello", func(cx *bridge.CallContext) (bridge.Handle, error) {
//			return cx.String("world")
//		})
//	})
//
// Background goroutines never touch the engine directly; they send closures
// through a bridge.Channel, or run under a task.Pool whose completions are
// delivered the same way. See examples/basic for an end-to-end module.
package enginebridge
