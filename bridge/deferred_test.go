package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/engine/enginelocal"
	"github.com/wippyai/engine-bridge/errors"
)

// anchorExports returns an engine-rooted object tests can hang promises on,
// so a settled promise stays observable after collection.
func anchorExports(t *testing.T, rt *Runtime) engine.Value {
	t.Helper()
	exports, err := rt.Module(func(*ModuleContext) error { return nil })
	require.NoError(t, err)
	return exports
}

func TestDeferred_Resolve(t *testing.T) {
	rt, l := newTestRuntime(t, Config{Tasks: true})
	anchor := anchorExports(t, rt)

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)

	var promise engine.Value
	withContext(t, rt, func(cx *Context) {
		h, d, err := cx.NewPromise(ch)
		require.NoError(t, err)
		require.Equal(t, engine.TypePromise, h.Type())

		exp, err := cx.Adopt(anchor)
		require.NoError(t, err)
		require.NoError(t, cx.Set(exp, "promise", h))
		promise, err = h.Value()
		require.NoError(t, err)

		require.NoError(t, d.Resolve(func(tcx *TaskContext) (Handle, error) {
			return tcx.String("settled value")
		}))
	})

	waitIdle(t, l)
	state, result, err := l.State(promise)
	require.NoError(t, err)
	require.Equal(t, enginelocal.PromiseFulfilled, state)
	s, err := l.StringValue(result)
	require.NoError(t, err)
	require.Equal(t, "settled value", s)
}

func TestDeferred_Reject(t *testing.T) {
	rt, l := newTestRuntime(t, Config{Tasks: true})
	anchor := anchorExports(t, rt)

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)

	var promise engine.Value
	withContext(t, rt, func(cx *Context) {
		h, d, err := cx.NewPromise(ch)
		require.NoError(t, err)

		exp, err := cx.Adopt(anchor)
		require.NoError(t, err)
		require.NoError(t, cx.Set(exp, "promise", h))
		promise, err = h.Value()
		require.NoError(t, err)

		require.NoError(t, d.Reject(errors.InvalidInput(errors.PhaseTask, "backend unavailable")))
	})

	waitIdle(t, l)
	state, result, err := l.State(promise)
	require.NoError(t, err)
	require.Equal(t, enginelocal.PromiseRejected, state)

	tp, err := l.TypeOf(result)
	require.NoError(t, err)
	require.Equal(t, engine.TypeError, tp)
	msg, err := l.Get(result, "message")
	require.NoError(t, err)
	s, err := l.StringValue(msg)
	require.NoError(t, err)
	require.Contains(t, s, "backend unavailable")
}

func TestDeferred_SettlesExactlyOnce(t *testing.T) {
	rt, l := newTestRuntime(t, Config{Tasks: true})
	anchor := anchorExports(t, rt)

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)

	var promise engine.Value
	var d *Deferred
	withContext(t, rt, func(cx *Context) {
		h, def, err := cx.NewPromise(ch)
		require.NoError(t, err)

		exp, err := cx.Adopt(anchor)
		require.NoError(t, err)
		require.NoError(t, cx.Set(exp, "promise", h))
		promise, err = h.Value()
		require.NoError(t, err)
		d = def
	})

	// Race many settlers; exactly one wins, the rest fail with
	// deferred_settled and change nothing.
	const racers = 16
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				results[i] = d.Resolve(func(tcx *TaskContext) (Handle, error) {
					return tcx.Number(float64(i))
				})
			} else {
				results[i] = d.Reject(errors.EngineException("loser"))
			}
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.HasKind(err, errors.KindDeferredSettled), "got %v", err)
	}
	require.Equal(t, 1, wins)

	waitIdle(t, l)
	state, _, err := l.State(promise)
	require.NoError(t, err)
	require.NotEqual(t, enginelocal.PromisePending, state)
}

func TestDeferred_ResolveBuildFailureRejects(t *testing.T) {
	rt, l := newTestRuntime(t, Config{Tasks: true})
	anchor := anchorExports(t, rt)

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)

	var promise engine.Value
	withContext(t, rt, func(cx *Context) {
		h, d, err := cx.NewPromise(ch)
		require.NoError(t, err)

		exp, err := cx.Adopt(anchor)
		require.NoError(t, err)
		require.NoError(t, cx.Set(exp, "promise", h))
		promise, err = h.Value()
		require.NoError(t, err)

		require.NoError(t, d.Resolve(func(tcx *TaskContext) (Handle, error) {
			return Handle{}, errors.InvalidInput(errors.PhaseSettle, "could not build result")
		}))
	})

	waitIdle(t, l)
	state, _, err := l.State(promise)
	require.NoError(t, err)
	require.Equal(t, enginelocal.PromiseRejected, state)
}

func TestNewPromise_RequiresPromiseTier(t *testing.T) {
	rt, _ := newTestRuntime(t, Config{Tasks: true, Tier: engine.TierDispatch})

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)

	withContext(t, rt, func(cx *Context) {
		_, _, err := cx.NewPromise(ch)
		require.True(t, errors.HasKind(err, errors.KindUnsupported), "got %v", err)
	})
}
