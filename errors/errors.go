package errors

import (
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in the bridge lifecycle the error occurred
type Phase string

const (
	PhaseInit     Phase = "init"     // runtime initialization and teardown
	PhaseConfig   Phase = "config"   // configuration parsing and validation
	PhaseScope    Phase = "scope"    // scope open/close/escape
	PhaseHeap     Phase = "heap"     // engine value creation and access
	PhaseCall     Phase = "call"     // entry-point and engine function calls
	PhaseThrow    Phase = "throw"    // exception raising and translation
	PhaseDispatch Phase = "dispatch" // channel send/drain
	PhaseTask     Phase = "task"     // background work execution
	PhaseSettle   Phase = "settle"   // deferred settlement
	PhaseFinalize Phase = "finalize" // finalizer execution
	PhaseEngine   Phase = "engine"   // raw engine binding operations
)

// Kind categorizes the error
type Kind string

const (
	KindHandleEscapedScope Kind = "handle_escaped_scope"
	KindContextReentrancy  Kind = "context_reentrancy"
	KindChannelClosed      Kind = "channel_closed"
	KindQueueFull          Kind = "queue_full"
	KindTaskAborted        Kind = "task_aborted"
	KindDeferredSettled    Kind = "deferred_settled"
	KindPendingException   Kind = "pending_exception"
	KindUnsupported        Kind = "unsupported_capability"
	KindEngineException    Kind = "engine_exception"
	KindScopeMisuse        Kind = "scope_misuse"
	KindInvalidValue       Kind = "invalid_value"
	KindInvalidInput       Kind = "invalid_input"
	KindNotInitialized     Kind = "not_initialized"
	KindTimedOut           Kind = "timed_out"
	KindClosed             Kind = "closed"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates an error with an explicit phase, kind, and detail message.
func New(phase Phase, kind Kind, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// HasKind reports whether err is an *Error of the given kind, at any phase,
// anywhere in the unwrap chain.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Convenience constructors for common error patterns

// HandleEscaped creates a use-after-scope-close error
func HandleEscaped(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindHandleEscapedScope,
		Detail: detail,
	}
}

// Reentrancy creates a second-context-while-active error
func Reentrancy(detail string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindContextReentrancy,
		Detail: detail,
	}
}

// ChannelClosed creates a send-after-receiver-dropped error
func ChannelClosed(op string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindChannelClosed,
		Detail: fmt.Sprintf("%s on closed channel", op),
	}
}

// QueueFull creates a bounded-queue-full error for non-blocking sends
func QueueFull(capacity int) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindQueueFull,
		Detail: fmt.Sprintf("queue full (capacity %d)", capacity),
		Value:  capacity,
	}
}

// TaskAborted converts an unexpected abort of background work into an error.
// The recovered value becomes the message; stack carries the trace.
func TaskAborted(recovered any, stack []byte) *Error {
	detail := fmt.Sprintf("work aborted: %v", recovered)
	if len(stack) > 0 {
		detail += "\n" + string(stack)
	}
	return &Error{
		Phase:  PhaseTask,
		Kind:   KindTaskAborted,
		Detail: detail,
		Value:  recovered,
	}
}

// DeferredSettled creates a second-settlement error
func DeferredSettled(id string) *Error {
	return &Error{
		Phase:  PhaseSettle,
		Kind:   KindDeferredSettled,
		Detail: fmt.Sprintf("deferred %s already settled", id),
	}
}

// PendingException creates an error for a heap operation attempted while an
// exception is pending and unhandled
func PendingException(op string) *Error {
	return &Error{
		Phase:  PhaseHeap,
		Kind:   KindPendingException,
		Detail: fmt.Sprintf("%s while exception pending", op),
	}
}

// Unsupported creates a capability-tier error
func Unsupported(what, have, need string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindUnsupported,
		Detail: fmt.Sprintf("%s requires tier %s, binding provides %s", what, need, have),
	}
}

// EngineException wraps an engine-side exception as a native error,
// preserving its message
func EngineException(message string) *Error {
	return &Error{
		Phase:  PhaseThrow,
		Kind:   KindEngineException,
		Detail: message,
	}
}

// ScopeMisuse creates a scope discipline violation error
func ScopeMisuse(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseScope,
		Kind:   KindScopeMisuse,
		Detail: detail,
	}
}

// InvalidValue creates a stale or malformed engine value reference error
func InvalidValue(detail string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindInvalidValue,
		Detail: detail,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotInitialized creates a not-initialized error for a missing component
func NotInitialized(component string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// TimedOut creates a blocking-send timeout error
func TimedOut(d time.Duration) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTimedOut,
		Detail: fmt.Sprintf("timed out after %s", d),
		Value:  d,
	}
}

// Closed creates a use-after-close error for a component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}
