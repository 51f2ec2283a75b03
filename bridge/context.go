package bridge

import (
	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

type contextKind uint8

const (
	kindCall contextKind = iota
	kindFinalize
	kindTask
	kindModule
)

var kindNames = [...]string{"call", "finalize", "task", "module"}

func (k contextKind) String() string { return kindNames[k] }

// Context is the capability to perform heap operations on the engine's
// execution slot within a specific call frame. Contexts are minted only by
// the runtime's entry-point dispatchers, one per frame, and die when the
// frame returns. They are never safe to retain or to hand to another
// goroutine.
//
// Context is the shared core; the dispatcher hands out a call-site variant
// (CallContext, FinalizeContext, TaskContext, ModuleContext) whose method
// set is the operations legal at that site.
type Context struct {
	rt        *Runtime
	kind      contextKind
	root      *Scope
	scope     *Scope // innermost open scope
	pending   bool   // engine exception pending
	suspended bool   // parked in an engine call, nested entries allowed
	done      bool   // frame returned
}

// Runtime returns the owning runtime.
func (cx *Context) Runtime() *Runtime { return cx.rt }

// heapOK denies heap operations after the frame returned or while an
// exception is pending and unhandled.
func (cx *Context) heapOK(op string) error {
	if cx.done {
		return errors.Closed(errors.PhaseHeap, "context (frame returned)")
	}
	if cx.pending {
		return errors.PendingException(op)
	}
	return nil
}

// OpenScope opens a child scope under the innermost open scope. The caller
// must close it before the parent can close.
func (cx *Context) OpenScope() (*Scope, error) {
	if cx.done {
		return nil, errors.Closed(errors.PhaseScope, "context (frame returned)")
	}
	mark, err := cx.rt.binding.OpenMark()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseScope, errors.KindScopeMisuse, err, "open engine mark")
	}
	s := &Scope{cx: cx, parent: cx.scope, mark: mark}
	cx.scope.children++
	cx.scope = s
	return s, nil
}

// WithScope runs fn under a fresh child scope and closes it afterwards. A
// returned handle rooted in the child is escaped into the parent
// automatically so it survives the close.
func (cx *Context) WithScope(fn func(*Scope) (Handle, error)) (Handle, error) {
	s, err := cx.OpenScope()
	if err != nil {
		return Handle{}, err
	}

	h, err := fn(s)
	if err != nil {
		if cerr := s.Close(); cerr != nil {
			cx.rt.log.Warn("scope close failed after error", logErr(cerr))
		}
		return Handle{}, err
	}

	if h.scope == s {
		h, err = s.Escape(h)
		if err != nil {
			s.Close()
			return Handle{}, err
		}
	}
	if err := s.Close(); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Adopt roots a raw engine value in the innermost scope and returns a typed
// handle for it. It is the inverse of Handle.Value, for values obtained from
// binding APIs the bridge does not wrap (such as the exports object returned
// by Runtime.Module).
func (cx *Context) Adopt(v engine.Value) (Handle, error) {
	if err := cx.heapOK("adopt"); err != nil {
		return Handle{}, err
	}
	t, err := cx.rt.binding.TypeOf(v)
	if err != nil {
		return Handle{}, err
	}
	return cx.scope.root(v, t), nil
}

// Value construction. Every handle is rooted in the innermost open scope.

func (cx *Context) create(op string, make func() (engine.Value, error), t engine.Type) (Handle, error) {
	if err := cx.heapOK(op); err != nil {
		return Handle{}, err
	}
	v, err := make()
	if err != nil {
		return Handle{}, errors.Wrap(errors.PhaseHeap, errors.KindInvalidValue, err, op)
	}
	return cx.scope.root(v, t), nil
}

// Undefined returns a handle to the engine's undefined value.
func (cx *Context) Undefined() (Handle, error) {
	return cx.create("undefined", cx.rt.binding.Undefined, engine.TypeUndefined)
}

// Null returns a handle to the engine's null value.
func (cx *Context) Null() (Handle, error) {
	return cx.create("null", cx.rt.binding.Null, engine.TypeNull)
}

// Boolean creates a boolean value.
func (cx *Context) Boolean(b bool) (Handle, error) {
	return cx.create("boolean", func() (engine.Value, error) { return cx.rt.binding.Boolean(b) }, engine.TypeBoolean)
}

// Number creates a number value.
func (cx *Context) Number(f float64) (Handle, error) {
	return cx.create("number", func() (engine.Value, error) { return cx.rt.binding.Number(f) }, engine.TypeNumber)
}

// String creates a string value.
func (cx *Context) String(s string) (Handle, error) {
	return cx.create("string", func() (engine.Value, error) { return cx.rt.binding.String(s) }, engine.TypeString)
}

// NewObject creates an empty object.
func (cx *Context) NewObject() (Handle, error) {
	return cx.create("object", cx.rt.binding.NewObject, engine.TypeObject)
}

// NewArray creates an array of length n.
func (cx *Context) NewArray(n int) (Handle, error) {
	return cx.create("array", func() (engine.Value, error) { return cx.rt.binding.NewArray(n) }, engine.TypeArray)
}

// NewError creates an error value with the given message.
func (cx *Context) NewError(msg string) (Handle, error) {
	return cx.create("error", func() (engine.Value, error) { return cx.rt.binding.NewError(msg) }, engine.TypeError)
}

// Value inspection.

func (cx *Context) BooleanValue(h Handle) (bool, error) {
	if err := cx.heapOK("boolean value"); err != nil {
		return false, err
	}
	v, err := h.resolve()
	if err != nil {
		return false, err
	}
	return cx.rt.binding.BooleanValue(v)
}

func (cx *Context) NumberValue(h Handle) (float64, error) {
	if err := cx.heapOK("number value"); err != nil {
		return 0, err
	}
	v, err := h.resolve()
	if err != nil {
		return 0, err
	}
	return cx.rt.binding.NumberValue(v)
}

func (cx *Context) StringValue(h Handle) (string, error) {
	if err := cx.heapOK("string value"); err != nil {
		return "", err
	}
	v, err := h.resolve()
	if err != nil {
		return "", err
	}
	return cx.rt.binding.StringValue(v)
}

// StrictEquals compares two values by the engine's strict equality.
func (cx *Context) StrictEquals(a, b Handle) (bool, error) {
	if err := cx.heapOK("strict equals"); err != nil {
		return false, err
	}
	av, err := a.resolve()
	if err != nil {
		return false, err
	}
	bv, err := b.resolve()
	if err != nil {
		return false, err
	}
	return cx.rt.binding.StrictEquals(av, bv)
}

// Property access.

// Get reads a property, rooting the result in the innermost scope.
func (cx *Context) Get(obj Handle, key string) (Handle, error) {
	if err := cx.heapOK("get"); err != nil {
		return Handle{}, err
	}
	ov, err := obj.resolve()
	if err != nil {
		return Handle{}, err
	}
	v, err := cx.rt.binding.Get(ov, key)
	if err != nil {
		return Handle{}, err
	}
	t, err := cx.rt.binding.TypeOf(v)
	if err != nil {
		return Handle{}, err
	}
	return cx.scope.root(v, t), nil
}

// Set writes a property.
func (cx *Context) Set(obj Handle, key string, v Handle) error {
	if err := cx.heapOK("set"); err != nil {
		return err
	}
	ov, err := obj.resolve()
	if err != nil {
		return err
	}
	vv, err := v.resolve()
	if err != nil {
		return err
	}
	return cx.rt.binding.Set(ov, key, vv)
}

// Delete removes a property.
func (cx *Context) Delete(obj Handle, key string) error {
	if err := cx.heapOK("delete"); err != nil {
		return err
	}
	ov, err := obj.resolve()
	if err != nil {
		return err
	}
	return cx.rt.binding.Delete(ov, key)
}

// GetIndex reads an array element, rooting the result in the innermost scope.
func (cx *Context) GetIndex(arr Handle, i int) (Handle, error) {
	if err := cx.heapOK("get index"); err != nil {
		return Handle{}, err
	}
	av, err := arr.resolve()
	if err != nil {
		return Handle{}, err
	}
	v, err := cx.rt.binding.GetIndex(av, i)
	if err != nil {
		return Handle{}, err
	}
	t, err := cx.rt.binding.TypeOf(v)
	if err != nil {
		return Handle{}, err
	}
	return cx.scope.root(v, t), nil
}

// SetIndex writes an array element.
func (cx *Context) SetIndex(arr Handle, i int, v Handle) error {
	if err := cx.heapOK("set index"); err != nil {
		return err
	}
	av, err := arr.resolve()
	if err != nil {
		return err
	}
	vv, err := v.resolve()
	if err != nil {
		return err
	}
	return cx.rt.binding.SetIndex(av, i, vv)
}

// Length returns an array's length.
func (cx *Context) Length(arr Handle) (int, error) {
	if err := cx.heapOK("length"); err != nil {
		return 0, err
	}
	av, err := arr.resolve()
	if err != nil {
		return 0, err
	}
	return cx.rt.binding.Length(av)
}

// Call invokes an engine function value. While the call is in flight the
// context is suspended, which is what permits the callee to re-enter native
// code with a fresh context. If the callee raises, Call marks the exception
// pending on this context and returns an engine_exception error; the caller
// must propagate without further heap operations, or catch it with
// ClearPending.
func (cx *Context) Call(fn, this Handle, args ...Handle) (Handle, error) {
	if err := cx.heapOK("call"); err != nil {
		return Handle{}, err
	}
	fv, err := fn.resolve()
	if err != nil {
		return Handle{}, err
	}
	var tv engine.Value
	if !this.IsZero() {
		if tv, err = this.resolve(); err != nil {
			return Handle{}, err
		}
	}
	argv := make([]engine.Value, len(args))
	for i, a := range args {
		if argv[i], err = a.resolve(); err != nil {
			return Handle{}, err
		}
	}

	cx.setSuspended(true)
	v, callErr := cx.rt.binding.Call(fv, tv, argv)
	cx.setSuspended(false)

	if callErr != nil {
		cx.pending = true
		msg := cx.rt.pendingMessage()
		return Handle{}, errors.Wrap(errors.PhaseCall, errors.KindEngineException, callErr, msg)
	}
	t, err := cx.rt.binding.TypeOf(v)
	if err != nil {
		return Handle{}, err
	}
	return cx.scope.root(v, t), nil
}

func (cx *Context) setSuspended(on bool) {
	cx.rt.stateMu.Lock()
	cx.suspended = on
	cx.rt.stateMu.Unlock()
}

// ClearPending catches the pending exception, if any, returning it as a
// handle rooted in the innermost scope. Heap operations are legal again
// afterwards.
func (cx *Context) ClearPending() (Handle, bool) {
	v, ok := cx.rt.binding.ClearPending()
	if !ok {
		cx.pending = false
		return Handle{}, false
	}
	cx.pending = false
	t, err := cx.rt.binding.TypeOf(v)
	if err != nil {
		return Handle{}, false
	}
	return cx.scope.root(v, t), true
}

// PendingError peeks at the pending exception and returns it translated to a
// native error, or nil if none is pending. The exception stays pending.
func (cx *Context) PendingError() error {
	v, ok := cx.rt.binding.Pending()
	if !ok {
		return nil
	}
	return errors.EngineException(cx.rt.exceptionMessage(v))
}

// AddFinalizer schedules fn to run under a FinalizeContext after obj's value
// is collected by the engine, or at engine close.
func (cx *Context) AddFinalizer(obj Handle, fn func(*FinalizeContext)) error {
	if err := cx.heapOK("add finalizer"); err != nil {
		return err
	}
	ov, err := obj.resolve()
	if err != nil {
		return err
	}
	rt := cx.rt
	return rt.binding.AddFinalizer(ov, func() { rt.runFinalize(fn) })
}

// throwValue marks the engine's pending-exception slot. Exposed only on the
// context variants that may throw.
func (cx *Context) throwValue(h Handle) error {
	if cx.done {
		return errors.Closed(errors.PhaseThrow, "context (frame returned)")
	}
	if cx.pending {
		return errors.PendingException("throw")
	}
	v, err := h.resolve()
	if err != nil {
		return err
	}
	if err := cx.rt.binding.Throw(v); err != nil {
		return errors.Wrap(errors.PhaseThrow, errors.KindEngineException, err, "throw")
	}
	cx.pending = true
	return nil
}

// throwError translates a native error into an engine exception and throws it.
func (cx *Context) throwError(err error) error {
	if cx.done {
		return errors.Closed(errors.PhaseThrow, "context (frame returned)")
	}
	if cx.pending {
		return errors.PendingException("throw")
	}
	v, terr := cx.rt.toEngineValue(err)
	if terr != nil {
		return terr
	}
	if terr := cx.rt.binding.Throw(v); terr != nil {
		return errors.Wrap(errors.PhaseThrow, errors.KindEngineException, terr, "throw")
	}
	cx.pending = true
	return nil
}

// CallContext is the variant handed to ordinary function-call entry points.
// It exposes the callback info (receiver and arguments) and may throw.
type CallContext struct {
	*Context
	this  Handle
	args  []Handle
	undef Handle
}

// This returns the call receiver.
func (cx *CallContext) This() Handle { return cx.this }

// ArgCount returns the number of arguments the caller passed.
func (cx *CallContext) ArgCount() int { return len(cx.args) }

// Arg returns the i-th argument, or undefined when the caller passed fewer.
func (cx *CallContext) Arg(i int) Handle {
	if i < 0 || i >= len(cx.args) {
		return cx.undef
	}
	return cx.args[i]
}

// Throw marks the pending-exception slot with the given value. The entry
// point must then propagate its error result upward without further heap
// operations.
func (cx *CallContext) Throw(h Handle) error { return cx.throwValue(h) }

// ThrowError translates a native error into an engine exception and throws it.
func (cx *CallContext) ThrowError(err error) error { return cx.throwError(err) }

// FinalizeContext is the variant finalizers run under. Finalizers cannot
// throw synchronously, so no throwing operations are exposed.
type FinalizeContext struct {
	*Context
}

// TaskContext is the variant dispatched closures and task completions run
// under. It may throw; an exception left pending when the closure returns is
// reported as uncaught.
type TaskContext struct {
	*Context
}

// Throw marks the pending-exception slot with the given value.
func (cx *TaskContext) Throw(h Handle) error { return cx.throwValue(h) }

// ThrowError translates a native error into an engine exception and throws it.
func (cx *TaskContext) ThrowError(err error) error { return cx.throwError(err) }

// ModuleContext is the variant module initialization runs under. It owns the
// exports object and registers entry points on it.
type ModuleContext struct {
	*Context
	exports Handle
}

// Exports returns the module's exports object.
func (cx *ModuleContext) Exports() Handle { return cx.exports }

// Export registers a native entry point as a named export.
func (cx *ModuleContext) Export(name string, fn EntryFunc) error {
	if err := cx.heapOK("export"); err != nil {
		return err
	}
	fv, err := cx.rt.defineFunc(name, fn)
	if err != nil {
		return err
	}
	t, err := cx.rt.binding.TypeOf(fv)
	if err != nil {
		return err
	}
	return cx.Set(cx.exports, name, cx.scope.root(fv, t))
}

// ExportValue sets a named export to an existing value.
func (cx *ModuleContext) ExportValue(name string, h Handle) error {
	return cx.Set(cx.exports, name, h)
}

// Throw marks the pending-exception slot; module initialization fails.
func (cx *ModuleContext) Throw(h Handle) error { return cx.throwValue(h) }

// ThrowError translates a native error into an engine exception and throws it.
func (cx *ModuleContext) ThrowError(err error) error { return cx.throwError(err) }
