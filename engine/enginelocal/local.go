package enginelocal

import (
	"math/big"
	"sync"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Local is an in-process reference implementation of the full engine ABI
// surface: engine.Binding, engine.Dispatcher, engine.PromiseBinding,
// engine.BigIntBinding, and engine.Reporter.
//
// The heap is a slab of generation-checked slots. A collected slot bumps its
// generation, so any stale engine.Value fails dereference with an
// invalid_value error instead of reading reused memory. Handle-scope marks
// are strictly LIFO; closing a mark unroots its values and triggers a
// mark-sweep collection over property, element, and promise edges.
//
// All heap operations take an internal mutex, but Local does not serialize
// callers: the single execution slot is the embedder's job. Wrap top-level
// calls into the engine in Enter; dispatched callbacks are already run under
// it by the event loop.
type Local struct {
	runMu sync.Mutex // the single execution slot

	mu        sync.Mutex // guards everything below
	slots     []slot
	free      []uint32
	marks     []*markFrame
	nextMark  engine.Mark
	permRoots map[engine.Value]int

	pendingVal engine.Value
	pendingSet bool

	uncaught []string
	closed   bool

	undefined engine.Value
	null      engine.Value
	boolTrue  engine.Value
	boolFalse engine.Value

	refs int // referenced dispatches
	loop *loop
}

type slot struct {
	gen    uint32
	kind   engine.Type
	live   bool
	num    float64
	str    string
	b      bool
	bi     *big.Int
	props  map[string]engine.Value
	elems  []engine.Value
	fn     engine.HostFunc
	fnName string
	prom   *promiseRec
	fins   []func()
}

type markFrame struct {
	id    engine.Mark
	roots []engine.Value
}

// PromiseState reports the settlement state of a promise value.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

type promiseRec struct {
	state  PromiseState
	result engine.Value
}

// New creates a Local engine and starts its event loop.
func New() *Local {
	l := &Local{
		slots:     make([]slot, 0, 64),
		free:      make([]uint32, 0, 16),
		permRoots: make(map[engine.Value]int),
	}
	l.loop = newLoop(l)

	// Singletons exist before any mark opens, so they are rooted for the
	// engine lifetime.
	l.undefined, _ = l.alloc(engine.TypeUndefined, nil)
	l.null, _ = l.alloc(engine.TypeNull, nil)
	l.boolTrue, _ = l.alloc(engine.TypeBoolean, func(s *slot) { s.b = true })
	l.boolFalse, _ = l.alloc(engine.TypeBoolean, func(s *slot) { s.b = false })

	return l
}

// Enter runs fn while holding the engine's single execution slot. Top-level
// calls into native entry points must go through it; the event loop wraps
// dispatched callbacks in it automatically.
func (l *Local) Enter(fn func()) {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	fn()
}

func encode(idx, gen uint32) engine.Value {
	return engine.Value(uint64(gen)<<32 | (uint64(idx) + 1))
}

func decode(v engine.Value) (idx, gen uint32, ok bool) {
	if v == 0 {
		return 0, 0, false
	}
	return uint32(v&0xffffffff) - 1, uint32(v >> 32), true
}

// alloc creates a slot and roots it under the innermost mark, or for the
// engine lifetime when no mark is open. Callers must not hold l.mu.
func (l *Local) alloc(kind engine.Type, init func(*slot)) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocLocked(kind, init)
}

func (l *Local) allocLocked(kind engine.Type, init func(*slot)) (engine.Value, error) {
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}

	var idx uint32
	if n := len(l.free); n > 0 {
		idx = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		l.slots = append(l.slots, slot{})
		idx = uint32(len(l.slots) - 1)
	}

	s := &l.slots[idx]
	gen := s.gen
	*s = slot{gen: gen, kind: kind, live: true}
	if init != nil {
		init(s)
	}

	v := encode(idx, gen)
	l.rootLocked(v)
	return v, nil
}

// rootLocked roots v under the innermost mark, or permanently when no mark
// is open.
func (l *Local) rootLocked(v engine.Value) {
	if n := len(l.marks); n > 0 {
		m := l.marks[n-1]
		m.roots = append(m.roots, v)
		return
	}
	l.permRoots[v]++
}

func (l *Local) deref(v engine.Value) (*slot, error) {
	idx, gen, ok := decode(v)
	if !ok {
		return nil, errors.InvalidValue("nil value reference")
	}
	if int(idx) >= len(l.slots) {
		return nil, errors.InvalidValue("value reference out of range")
	}
	s := &l.slots[idx]
	if !s.live || s.gen != gen {
		return nil, errors.InvalidValue("stale value reference (collected)")
	}
	return s, nil
}

// Value construction.

func (l *Local) Undefined() (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	return l.undefined, nil
}

func (l *Local) Null() (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	return l.null, nil
}

func (l *Local) Boolean(b bool) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	if b {
		return l.boolTrue, nil
	}
	return l.boolFalse, nil
}

func (l *Local) Number(f float64) (engine.Value, error) {
	return l.alloc(engine.TypeNumber, func(s *slot) { s.num = f })
}

func (l *Local) String(str string) (engine.Value, error) {
	return l.alloc(engine.TypeString, func(s *slot) { s.str = str })
}

func (l *Local) NewObject() (engine.Value, error) {
	return l.alloc(engine.TypeObject, func(s *slot) {
		s.props = make(map[string]engine.Value)
	})
}

func (l *Local) NewArray(n int) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	elems := make([]engine.Value, n)
	for i := range elems {
		elems[i] = l.undefined
	}
	return l.allocLocked(engine.TypeArray, func(s *slot) { s.elems = elems })
}

func (l *Local) NewError(msg string) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	msgVal, err := l.allocLocked(engine.TypeString, func(s *slot) { s.str = msg })
	if err != nil {
		return 0, err
	}
	return l.allocLocked(engine.TypeError, func(s *slot) {
		s.props = map[string]engine.Value{"message": msgVal}
	})
}

func (l *Local) NewFunction(name string, fn engine.HostFunc) (engine.Value, error) {
	if fn == nil {
		return 0, errors.InvalidInput(errors.PhaseEngine, "nil host function")
	}
	return l.alloc(engine.TypeFunction, func(s *slot) {
		s.fn = fn
		s.fnName = name
		s.props = make(map[string]engine.Value)
	})
}

func (l *Local) BigInt(i *big.Int) (engine.Value, error) {
	if i == nil {
		return 0, errors.InvalidInput(errors.PhaseEngine, "nil big int")
	}
	cp := new(big.Int).Set(i)
	return l.alloc(engine.TypeBigInt, func(s *slot) { s.bi = cp })
}

// Value inspection.

func (l *Local) TypeOf(v engine.Value) (engine.Type, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return 0, err
	}
	return s.kind, nil
}

func (l *Local) BooleanValue(v engine.Value) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return false, err
	}
	if s.kind != engine.TypeBoolean {
		return false, errors.InvalidInput(errors.PhaseEngine, "value is not a boolean")
	}
	return s.b, nil
}

func (l *Local) NumberValue(v engine.Value) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return 0, err
	}
	if s.kind != engine.TypeNumber {
		return 0, errors.InvalidInput(errors.PhaseEngine, "value is not a number")
	}
	return s.num, nil
}

func (l *Local) StringValue(v engine.Value) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return "", err
	}
	if s.kind != engine.TypeString {
		return "", errors.InvalidInput(errors.PhaseEngine, "value is not a string")
	}
	return s.str, nil
}

func (l *Local) BigIntValue(v engine.Value) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return nil, err
	}
	if s.kind != engine.TypeBigInt {
		return nil, errors.InvalidInput(errors.PhaseEngine, "value is not a bigint")
	}
	return new(big.Int).Set(s.bi), nil
}

func (l *Local) StrictEquals(a, b engine.Value) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sa, err := l.deref(a)
	if err != nil {
		return false, err
	}
	sb, err := l.deref(b)
	if err != nil {
		return false, err
	}
	if sa.kind != sb.kind {
		return false, nil
	}
	switch sa.kind {
	case engine.TypeUndefined, engine.TypeNull:
		return true, nil
	case engine.TypeBoolean:
		return sa.b == sb.b, nil
	case engine.TypeNumber:
		return sa.num == sb.num, nil
	case engine.TypeString:
		return sa.str == sb.str, nil
	case engine.TypeBigInt:
		return sa.bi.Cmp(sb.bi) == 0, nil
	default:
		// Reference identity.
		ia, _, _ := decode(a)
		ib, _, _ := decode(b)
		return ia == ib, nil
	}
}

// Property access.

func (l *Local) propSlot(obj engine.Value) (*slot, error) {
	s, err := l.deref(obj)
	if err != nil {
		return nil, err
	}
	switch s.kind {
	case engine.TypeObject, engine.TypeError, engine.TypeFunction, engine.TypeArray:
		return s, nil
	default:
		return nil, errors.InvalidInput(errors.PhaseEngine, "value does not hold properties")
	}
}

func (l *Local) Get(obj engine.Value, key string) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.propSlot(obj)
	if err != nil {
		return 0, err
	}
	v, ok := s.props[key]
	if !ok {
		return l.undefined, nil
	}
	l.rootLocked(v)
	return v, nil
}

func (l *Local) Set(obj engine.Value, key string, v engine.Value) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.propSlot(obj)
	if err != nil {
		return err
	}
	if _, err := l.deref(v); err != nil {
		return err
	}
	if s.props == nil {
		s.props = make(map[string]engine.Value)
	}
	s.props[key] = v
	return nil
}

func (l *Local) Delete(obj engine.Value, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.propSlot(obj)
	if err != nil {
		return err
	}
	delete(s.props, key)
	return nil
}

func (l *Local) GetIndex(obj engine.Value, i int) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(obj)
	if err != nil {
		return 0, err
	}
	if s.kind != engine.TypeArray {
		return 0, errors.InvalidInput(errors.PhaseEngine, "value is not an array")
	}
	if i < 0 || i >= len(s.elems) {
		return l.undefined, nil
	}
	v := s.elems[i]
	l.rootLocked(v)
	return v, nil
}

func (l *Local) SetIndex(obj engine.Value, i int, v engine.Value) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(obj)
	if err != nil {
		return err
	}
	if s.kind != engine.TypeArray {
		return errors.InvalidInput(errors.PhaseEngine, "value is not an array")
	}
	if i < 0 {
		return errors.InvalidInput(errors.PhaseEngine, "negative array index")
	}
	if _, err := l.deref(v); err != nil {
		return err
	}
	for len(s.elems) <= i {
		s.elems = append(s.elems, l.undefined)
	}
	s.elems[i] = v
	return nil
}

func (l *Local) Length(obj engine.Value) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(obj)
	if err != nil {
		return 0, err
	}
	if s.kind != engine.TypeArray {
		return 0, errors.InvalidInput(errors.PhaseEngine, "value is not an array")
	}
	return len(s.elems), nil
}

// Call invokes a function value. The callee runs on the caller's goroutine;
// the caller must hold the execution slot. A non-nil error from the callee
// becomes the pending exception unless one is already set.
func (l *Local) Call(fn, this engine.Value, args []engine.Value) (engine.Value, error) {
	l.mu.Lock()
	s, err := l.deref(fn)
	if err != nil {
		l.mu.Unlock()
		return 0, err
	}
	if s.kind != engine.TypeFunction {
		l.mu.Unlock()
		return 0, errors.InvalidInput(errors.PhaseEngine, "value is not a function")
	}
	if this == 0 {
		this = l.undefined
	}
	hf := s.fn
	l.mu.Unlock()

	result, callErr := hf(this, args)

	l.mu.Lock()
	defer l.mu.Unlock()

	if callErr != nil {
		if !l.pendingSet {
			msgVal, err := l.allocLocked(engine.TypeString, func(s *slot) { s.str = callErr.Error() })
			if err != nil {
				return 0, err
			}
			errVal, err := l.allocLocked(engine.TypeError, func(s *slot) {
				s.props = map[string]engine.Value{"message": msgVal}
			})
			if err != nil {
				return 0, err
			}
			l.pendingSet = true
			l.pendingVal = errVal
		}
		return 0, errors.Wrap(errors.PhaseEngine, errors.KindEngineException, callErr, "callee raised")
	}
	if l.pendingSet {
		return 0, errors.EngineException("callee raised")
	}

	if result == 0 {
		result = l.undefined
	} else if _, err := l.deref(result); err != nil {
		return 0, err
	}
	l.rootLocked(result)
	return result, nil
}

// Handle-scope marks.

func (l *Local) OpenMark() (engine.Mark, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, errors.Closed(errors.PhaseEngine, "engine")
	}
	l.nextMark++
	m := &markFrame{id: l.nextMark}
	l.marks = append(l.marks, m)
	return m.id, nil
}

func (l *Local) CloseMark(m engine.Mark) error {
	l.mu.Lock()
	n := len(l.marks)
	if n == 0 {
		l.mu.Unlock()
		return errors.ScopeMisuse("close with no open mark")
	}
	if l.marks[n-1].id != m {
		l.mu.Unlock()
		return errors.ScopeMisuse("mark %d closed out of order (innermost is %d)", m, l.marks[n-1].id)
	}
	l.marks = l.marks[:n-1]
	fins := l.collectLocked()
	l.mu.Unlock()

	l.scheduleFinalizers(fins)
	return nil
}

func (l *Local) Escape(m engine.Mark, v engine.Value) (engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.deref(v); err != nil {
		return 0, err
	}

	fi := -1
	for i := len(l.marks) - 1; i >= 0; i-- {
		if l.marks[i].id == m {
			fi = i
			break
		}
	}
	if fi < 0 {
		return 0, errors.ScopeMisuse("escape from unknown mark %d", m)
	}

	frame := l.marks[fi]
	found := false
	for i, rv := range frame.roots {
		if rv == v {
			frame.roots = append(frame.roots[:i], frame.roots[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return 0, errors.ScopeMisuse("value is not rooted in mark %d", m)
	}

	if fi > 0 {
		parent := l.marks[fi-1]
		parent.roots = append(parent.roots, v)
	} else {
		l.permRoots[v]++
	}
	return v, nil
}

// Pending exception slot.

func (l *Local) Throw(v engine.Value) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.deref(v); err != nil {
		return err
	}
	if l.pendingSet {
		return errors.PendingException("throw")
	}
	l.pendingSet = true
	l.pendingVal = v
	return nil
}

func (l *Local) Pending() (engine.Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pendingSet {
		return 0, false
	}
	return l.pendingVal, true
}

func (l *Local) ClearPending() (engine.Value, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pendingSet {
		return 0, false
	}
	v := l.pendingVal
	l.pendingSet = false
	l.pendingVal = 0
	l.rootLocked(v)
	return v, true
}

// Finalizers.

func (l *Local) AddFinalizer(obj engine.Value, fin func()) error {
	if fin == nil {
		return errors.InvalidInput(errors.PhaseEngine, "nil finalizer")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(obj)
	if err != nil {
		return err
	}
	s.fins = append(s.fins, fin)
	return nil
}

// scheduleFinalizers defers finalizer execution to the event loop so it
// happens on the execution slot, never inside a heap operation.
func (l *Local) scheduleFinalizers(fins []func()) {
	if len(fins) == 0 {
		return
	}
	for _, fin := range fins {
		fin := fin
		if err := l.loop.enqueue(func() { fin() }); err != nil {
			// Loop stopped; run inline as a last resort at teardown.
			fin()
		}
	}
}

// ReportUncaught records an exception that escaped a dispatched callback.
// Only the message is retained; the value itself stays scope-bounded.
func (l *Local) ReportUncaught(v engine.Value) {
	msg := l.describe(v)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uncaught = append(l.uncaught, msg)
}

// Uncaught returns the messages of exceptions reported via ReportUncaught.
func (l *Local) Uncaught() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.uncaught))
	copy(out, l.uncaught)
	return out
}

func (l *Local) describe(v engine.Value) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.deref(v)
	if err != nil {
		return "<invalid value>"
	}
	if s.kind == engine.TypeError {
		if mv, ok := s.props["message"]; ok {
			if ms, err := l.deref(mv); err == nil && ms.kind == engine.TypeString {
				return ms.str
			}
		}
		return "<error>"
	}
	if s.kind == engine.TypeString {
		return s.str
	}
	return "<" + s.kind.String() + ">"
}

// Close tears the engine down: stops the event loop, runs every registered
// finalizer, and invalidates all values.
func (l *Local) Close() error {
	l.loop.stop()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true

	var fins []func()
	for i := range l.slots {
		s := &l.slots[i]
		if s.live {
			fins = append(fins, s.fins...)
			s.gen++
			s.live = false
			*s = slot{gen: s.gen}
		}
	}
	l.marks = nil
	l.permRoots = nil
	l.pendingSet = false
	l.pendingVal = 0
	l.mu.Unlock()

	for _, fin := range fins {
		fin()
	}
	return nil
}
