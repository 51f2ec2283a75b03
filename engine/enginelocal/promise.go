package enginelocal

import (
	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// NewPromise creates an unsettled promise and its settlement token. The
// promise is rooted for the engine lifetime until settled, so an in-flight
// Deferred cannot outlive its promise.
func (l *Local) NewPromise() (engine.Value, engine.DeferredRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.allocLocked(engine.TypePromise, func(s *slot) {
		s.prom = &promiseRec{state: PromisePending}
	})
	if err != nil {
		return 0, 0, err
	}
	l.permRoots[v]++
	return v, engine.DeferredRef(v), nil
}

// ResolveDeferred settles the promise as fulfilled. Must run on the
// execution slot.
func (l *Local) ResolveDeferred(d engine.DeferredRef, v engine.Value) error {
	return l.settle(d, v, PromiseFulfilled)
}

// RejectDeferred settles the promise as rejected. Must run on the
// execution slot.
func (l *Local) RejectDeferred(d engine.DeferredRef, v engine.Value) error {
	return l.settle(d, v, PromiseRejected)
}

func (l *Local) settle(d engine.DeferredRef, v engine.Value, state PromiseState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.deref(engine.Value(d))
	if err != nil {
		return err
	}
	if p.kind != engine.TypePromise {
		return errors.InvalidInput(errors.PhaseEngine, "deferred token is not a promise")
	}
	if p.prom.state != PromisePending {
		return errors.New(errors.PhaseEngine, errors.KindDeferredSettled, "promise already settled")
	}
	if _, err := l.deref(v); err != nil {
		return err
	}

	p.prom.state = state
	p.prom.result = v

	// Settlement releases the engine-lifetime root taken at creation; the
	// result stays reachable through the promise edge.
	pv := engine.Value(d)
	if n := l.permRoots[pv]; n > 1 {
		l.permRoots[pv] = n - 1
	} else {
		delete(l.permRoots, pv)
	}
	return nil
}

// State reports a promise's settlement state and result. Test hook.
func (l *Local) State(p engine.Value) (PromiseState, engine.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.deref(p)
	if err != nil {
		return 0, 0, err
	}
	if s.kind != engine.TypePromise {
		return 0, 0, errors.InvalidInput(errors.PhaseEngine, "value is not a promise")
	}
	return s.prom.state, s.prom.result, nil
}
