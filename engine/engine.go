package engine

import "math/big"

// Value is an opaque reference to a value owned by the engine's heap.
// Value 0 is reserved and always invalid. A Value carries no ownership;
// its validity is bounded by the handle-scope mark it was rooted under.
type Value uint64

// IsNil reports whether the reference is the reserved invalid value.
func (v Value) IsNil() bool { return v == 0 }

// Type identifies the engine-side kind of a value.
type Type uint8

const (
	TypeUndefined Type = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypeArray
	TypeFunction
	TypeError
	TypePromise
	TypeBigInt
)

var typeNames = [...]string{
	"undefined", "null", "boolean", "number", "string",
	"object", "array", "function", "error", "promise", "bigint",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Mark identifies an engine-side handle-scope frame. Marks are strictly
// LIFO: closing any mark other than the innermost open one is a misuse.
type Mark uint32

// HostFunc is a native entry point callable from the engine. It runs on the
// engine's execution slot. A non-nil error is converted by the engine into a
// pending exception unless one is already set.
type HostFunc func(this Value, args []Value) (Value, error)

// Binding is the raw extension ABI consumed by the bridge. It is the minimal
// (core) capability tier: value construction and inspection, property access,
// function calls, handle-scope marks, and the pending-exception slot.
//
// Implementations are not required to be safe for concurrent use; the bridge
// confines all Binding calls to the engine's single execution slot. The only
// exceptions are the optional Dispatcher and PromiseBinding operations, which
// are documented individually.
type Binding interface {
	// Value construction. Every value created while a mark is open is
	// rooted under the innermost mark; values created with no open mark
	// are rooted for the lifetime of the engine.
	Undefined() (Value, error)
	Null() (Value, error)
	Boolean(b bool) (Value, error)
	Number(f float64) (Value, error)
	String(s string) (Value, error)
	NewObject() (Value, error)
	NewArray(n int) (Value, error)
	NewError(msg string) (Value, error)
	NewFunction(name string, fn HostFunc) (Value, error)

	// Value inspection.
	TypeOf(v Value) (Type, error)
	BooleanValue(v Value) (bool, error)
	NumberValue(v Value) (float64, error)
	StringValue(v Value) (string, error)
	StrictEquals(a, b Value) (bool, error)

	// Property access.
	Get(obj Value, key string) (Value, error)
	Set(obj Value, key string, v Value) error
	Delete(obj Value, key string) error
	GetIndex(obj Value, i int) (Value, error)
	SetIndex(obj Value, i int, v Value) error
	Length(obj Value) (int, error)

	// Call invokes a function value. The result is rooted under the
	// caller's innermost mark. If the callee raises, Call returns an
	// error and leaves the exception pending.
	Call(fn, this Value, args []Value) (Value, error)

	// Handle-scope marks, kept in lock-step with bridge scopes.
	OpenMark() (Mark, error)
	CloseMark(m Mark) error

	// Escape re-roots v from mark m into m's parent mark (or the engine
	// lifetime if m is outermost) so it survives m closing.
	Escape(m Mark, v Value) (Value, error)

	// Pending exception slot.
	Throw(v Value) error
	Pending() (Value, bool)
	ClearPending() (Value, bool)

	// AddFinalizer schedules fin to run on the engine's execution slot
	// after obj is collected, or at engine close.
	AddFinalizer(obj Value, fin func()) error

	// Close tears the engine down. All values become invalid.
	Close() error
}

// Dispatcher is the thread-safe wake capability (TierDispatch). Bindings
// that integrate with a host event loop implement it.
type Dispatcher interface {
	// NewDispatch registers fn to be invoked on the engine's execution
	// slot, once per Signal call. name is diagnostic only.
	NewDispatch(name string, fn func()) (Dispatch, error)
}

// Dispatch is a registered thread-safe callback. Signal and Ref are safe to
// call from any thread.
type Dispatch interface {
	// Signal schedules one invocation of the registered callback on the
	// engine's execution slot and returns immediately.
	Signal() error

	// Ref controls whether outstanding signals on this dispatch keep the
	// host event loop (and process) alive.
	Ref(on bool)

	// Close unregisters the callback. Signals already accepted are still
	// delivered; later Signal calls fail.
	Close() error
}

// PromiseBinding is the promise/deferred capability (TierPromises).
type PromiseBinding interface {
	// NewPromise creates an unsettled promise and its settlement token.
	// Must be called on the engine's execution slot. The engine keeps the
	// promise alive until it is settled.
	NewPromise() (Value, DeferredRef, error)

	// ResolveDeferred and RejectDeferred settle the promise. Must be
	// called on the engine's execution slot; cross-thread settlement goes
	// through a Dispatch.
	ResolveDeferred(d DeferredRef, v Value) error
	RejectDeferred(d DeferredRef, v Value) error
}

// DeferredRef is a thread-transferable token for an unsettled promise.
type DeferredRef uint64

// BigIntBinding is the extended numeric capability (TierBigInt).
type BigIntBinding interface {
	BigInt(i *big.Int) (Value, error)
	BigIntValue(v Value) (*big.Int, error)
}

// Reporter is optionally implemented by bindings that have an
// uncaught-exception sink. The bridge reports errors escaping dispatched
// closures through it; without it they are only logged.
type Reporter interface {
	ReportUncaught(v Value)
}
