// Package errors provides structured error types for the engine-bridge library.
//
// Errors are categorized by Phase (where in the bridge lifecycle the error
// occurred) and Kind (error category). Kinds map one-to-one onto the failure
// taxonomy of the bridge: scope violations, context reentrancy, closed
// channels, aborted background work, double settlement, pending-exception
// violations, and capability-tier mismatches.
//
// Use New for explicit construction:
//
//	err := errors.New(errors.PhaseScope, errors.KindScopeMisuse,
//		"escape targets a non-parent scope")
//
// Or use convenience constructors for common patterns:
//
//	err := errors.HandleEscaped(errors.PhaseHeap, "number value")
//	err := errors.ChannelClosed("send")
//	err := errors.TaskAborted(recovered, debug.Stack())
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind are equal;
// HasKind matches a Kind anywhere in an unwrap chain regardless of Phase.
package errors
