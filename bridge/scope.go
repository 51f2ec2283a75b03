package bridge

import (
	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Handle is a typed, scope-bounded reference to a value owned by the
// engine's heap. A Handle owns no memory; it is an index into its scope's
// arena, and every access checks that the scope is still open. The zero
// Handle is invalid.
type Handle struct {
	scope *Scope
	idx   uint32
	typ   engine.Type
}

// Type returns the engine-side kind the handle was created with.
func (h Handle) Type() engine.Type { return h.typ }

// IsZero reports whether the handle is the invalid zero value.
func (h Handle) IsZero() bool { return h.scope == nil }

// Value returns the underlying engine value, for handing to raw binding
// APIs the bridge does not wrap. The value is only usable while the handle's
// scope is open.
func (h Handle) Value() (engine.Value, error) { return h.resolve() }

// resolve returns the underlying engine value, failing with
// handle_escaped_scope if the originating scope has closed.
func (h Handle) resolve() (engine.Value, error) {
	if h.scope == nil {
		return 0, errors.InvalidInput(errors.PhaseHeap, "zero handle")
	}
	if h.scope.closed {
		return 0, errors.HandleEscaped(errors.PhaseHeap, "handle used after its scope closed")
	}
	return h.scope.slots[h.idx].val, nil
}

// Scope is a stack-discipline region bounding handle validity to one native
// call frame or one explicitly nested sub-frame. Scopes form a tree
// mirroring the native call stack, kept in lock-step with the engine's own
// handle-scope marks. Closing a scope invalidates every handle rooted in it.
//
// Scopes are confined to the engine's execution slot; they are not safe for
// concurrent use.
type Scope struct {
	cx       *Context
	parent   *Scope
	mark     engine.Mark
	slots    []scopeSlot
	children int
	closed   bool
}

type scopeSlot struct {
	val     engine.Value
	escaped bool
}

// root records an engine value in the scope's arena and returns its handle.
func (s *Scope) root(v engine.Value, t engine.Type) Handle {
	s.slots = append(s.slots, scopeSlot{val: v})
	return Handle{scope: s, idx: uint32(len(s.slots) - 1), typ: t}
}

// Close pops the scope, invalidating all handles rooted in it. The engine's
// matching handle-scope mark is popped in lock-step, which releases the
// values for collection. A scope cannot close while a child scope is open.
func (s *Scope) Close() error {
	if s.closed {
		return errors.ScopeMisuse("scope already closed")
	}
	if s.children > 0 {
		return errors.ScopeMisuse("scope closed while %d child scope(s) open", s.children)
	}
	if err := s.cx.rt.binding.CloseMark(s.mark); err != nil {
		return errors.Wrap(errors.PhaseScope, errors.KindScopeMisuse, err, "close engine mark")
	}
	s.closed = true
	if s.parent != nil {
		s.parent.children--
	}
	if s.cx.scope == s {
		s.cx.scope = s.parent
	}
	return nil
}

// Escape re-roots a handle into the immediate parent scope so a value can
// survive this scope closing. Only the scope's own handles may escape, each
// at most once.
func (s *Scope) Escape(h Handle) (Handle, error) {
	if s.closed {
		return Handle{}, errors.ScopeMisuse("escape from closed scope")
	}
	if h.scope != s {
		return Handle{}, errors.ScopeMisuse("only the scope's own handles can escape")
	}
	if s.parent == nil {
		return Handle{}, errors.ScopeMisuse("root scope has no parent to escape into")
	}
	slot := &s.slots[h.idx]
	if slot.escaped {
		return Handle{}, errors.ScopeMisuse("handle already escaped")
	}

	v, err := s.cx.rt.binding.Escape(s.mark, slot.val)
	if err != nil {
		return Handle{}, errors.Wrap(errors.PhaseScope, errors.KindScopeMisuse, err, "escape engine value")
	}
	slot.escaped = true
	return s.parent.root(v, h.typ), nil
}
