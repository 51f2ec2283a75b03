package enginelocal

import (
	"testing"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

func TestPromise_ResolveOnce(t *testing.T) {
	l := New()
	defer l.Close()

	m, _ := l.OpenMark()
	defer l.CloseMark(m)

	p, d, err := l.NewPromise()
	if err != nil {
		t.Fatalf("NewPromise failed: %v", err)
	}

	state, _, _ := l.State(p)
	if state != PromisePending {
		t.Fatalf("state = %v, want pending", state)
	}

	v, _ := l.Number(5)
	if err := l.ResolveDeferred(d, v); err != nil {
		t.Fatalf("ResolveDeferred failed: %v", err)
	}

	state, result, _ := l.State(p)
	if state != PromiseFulfilled {
		t.Errorf("state = %v, want fulfilled", state)
	}
	if f, _ := l.NumberValue(result); f != 5 {
		t.Errorf("result = %v, want 5", f)
	}

	// Second settlement is denied, not applied.
	w, _ := l.Number(6)
	if err := l.RejectDeferred(d, w); !errors.HasKind(err, errors.KindDeferredSettled) {
		t.Errorf("second settle = %v, want deferred_settled", err)
	}
	_, result, _ = l.State(p)
	if f, _ := l.NumberValue(result); f != 5 {
		t.Errorf("result after denied settle = %v, want 5", f)
	}
}

func TestPromise_PendingSurvivesScopeClose(t *testing.T) {
	l := New()
	defer l.Close()

	m, _ := l.OpenMark()
	_, d, _ := l.NewPromise()
	l.CloseMark(m)

	// The deferred token keeps the unsettled promise alive with no marks open.
	ev, _ := l.NewError("late") // engine-lifetime root, no open mark
	if err := l.RejectDeferred(d, ev); err != nil {
		t.Fatalf("settle after scope close failed: %v", err)
	}

	state, _, err := l.State(engine.Value(d))
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != PromiseRejected {
		t.Errorf("state = %v, want rejected", state)
	}
}

func TestPromise_SettledPromiseIsCollectable(t *testing.T) {
	l := New()
	defer l.Close()

	m, _ := l.OpenMark()
	_, d, _ := l.NewPromise()
	v, _ := l.Number(1)
	if err := l.ResolveDeferred(d, v); err != nil {
		t.Fatalf("ResolveDeferred failed: %v", err)
	}
	l.CloseMark(m)

	// Settlement released the engine-lifetime root; with its mark closed the
	// promise is gone.
	if _, _, err := l.State(engine.Value(d)); !errors.HasKind(err, errors.KindInvalidValue) {
		t.Errorf("collected promise state = %v, want invalid_value", err)
	}
}
