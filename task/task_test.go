package task_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/engine-bridge/bridge"
	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/engine/enginelocal"
	"github.com/wippyai/engine-bridge/errors"
	"github.com/wippyai/engine-bridge/task"
)

func newTaskHarness(t *testing.T) (*bridge.Runtime, *bridge.Channel, *enginelocal.Local) {
	t.Helper()
	l := enginelocal.New()
	rt, err := bridge.Init(l, bridge.Config{Tasks: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	ch, err := rt.NewChannel(0)
	require.NoError(t, err)
	return rt, ch, l
}

func waitIdle(t *testing.T, l *enginelocal.Local) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.WaitIdle(ctx))
}

// anchorExports returns an engine-rooted object a test can hang promises on,
// keeping them observable after settlement releases their root.
func anchorExports(t *testing.T, rt *bridge.Runtime) engine.Value {
	t.Helper()
	exports, err := rt.Module(func(*bridge.ModuleContext) error { return nil })
	require.NoError(t, err)
	return exports
}

func anchorPromise(cx *bridge.Context, anchor engine.Value, h bridge.Handle) error {
	exp, err := cx.Adopt(anchor)
	if err != nil {
		return err
	}
	return cx.Set(exp, "promise", h)
}

func TestSpawn_RoundTrip(t *testing.T) {
	_, ch, l := newTaskHarness(t)

	pool, err := task.NewPool(2)
	require.NoError(t, err)
	defer pool.Close()

	got := make(chan string, 1)
	id, err := task.Spawn(pool, ch,
		func(ctx context.Context) (string, error) {
			return "computed off-thread", nil
		},
		func(cx *bridge.TaskContext, result string, err error) error {
			if err != nil {
				return err
			}
			h, err := cx.String(result)
			if err != nil {
				return err
			}
			s, err := cx.StringValue(h)
			if err != nil {
				return err
			}
			got <- s
			return nil
		})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pool.Close()
	waitIdle(t, l)
	require.Equal(t, "computed off-thread", <-got)
}

func TestSpawn_ErrorReachesCompletion(t *testing.T) {
	_, ch, l := newTaskHarness(t)

	pool, err := task.NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	wantErr := errors.InvalidInput(errors.PhaseTask, "backend refused")
	got := make(chan error, 1)
	_, err = task.Spawn(pool, ch,
		func(ctx context.Context) (int, error) { return 0, wantErr },
		func(cx *bridge.TaskContext, result int, err error) error {
			got <- err
			return nil
		})
	require.NoError(t, err)

	pool.Close()
	waitIdle(t, l)
	require.ErrorIs(t, <-got, wantErr)
}

func TestSpawn_PanicBecomesTaskAborted(t *testing.T) {
	_, ch, l := newTaskHarness(t)

	pool, err := task.NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	got := make(chan error, 1)
	_, err = task.Spawn(pool, ch,
		func(ctx context.Context) (int, error) { panic("worker blew up") },
		func(cx *bridge.TaskContext, result int, err error) error {
			got <- err
			return nil
		})
	require.NoError(t, err)

	pool.Close()
	waitIdle(t, l)

	aborted := <-got
	require.True(t, errors.HasKind(aborted, errors.KindTaskAborted), "got %v", aborted)
	require.Contains(t, aborted.Error(), "worker blew up")
	// The diagnostic carries a stack trace.
	require.Contains(t, aborted.Error(), "task_test.go")
}

func TestSpawnPromise_Fulfill(t *testing.T) {
	rt, ch, l := newTaskHarness(t)
	anchor := anchorExports(t, rt)

	pool, err := task.NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	var promise engine.Value
	err = ch.SendAndWait(func(cx *bridge.TaskContext) error {
		h, err := task.SpawnPromise(cx.Context, pool, ch,
			func(ctx context.Context) (float64, error) { return 6 * 7, nil },
			func(cx *bridge.TaskContext, result float64) (bridge.Handle, error) {
				return cx.Number(result)
			})
		if err != nil {
			return err
		}
		if err := anchorPromise(cx.Context, anchor, h); err != nil {
			return err
		}
		promise, err = h.Value()
		return err
	}, 5*time.Second)
	require.NoError(t, err)

	pool.Close()
	waitIdle(t, l)

	state, result, err := l.State(promise)
	require.NoError(t, err)
	require.Equal(t, enginelocal.PromiseFulfilled, state)
	f, err := l.NumberValue(result)
	require.NoError(t, err)
	require.Equal(t, 42.0, f)
}

func TestSpawnPromise_RejectOnPanic(t *testing.T) {
	rt, ch, l := newTaskHarness(t)
	anchor := anchorExports(t, rt)

	pool, err := task.NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	var promise engine.Value
	err = ch.SendAndWait(func(cx *bridge.TaskContext) error {
		h, err := task.SpawnPromise(cx.Context, pool, ch,
			func(ctx context.Context) (int, error) { panic("no result for you") },
			func(cx *bridge.TaskContext, result int) (bridge.Handle, error) {
				t.Error("build must not run for a rejected promise")
				return bridge.Handle{}, nil
			})
		if err != nil {
			return err
		}
		if err := anchorPromise(cx.Context, anchor, h); err != nil {
			return err
		}
		promise, err = h.Value()
		return err
	}, 5*time.Second)
	require.NoError(t, err)

	pool.Close()
	waitIdle(t, l)

	state, result, err := l.State(promise)
	require.NoError(t, err)
	require.Equal(t, enginelocal.PromiseRejected, state)

	msg, err := l.Get(result, "message")
	require.NoError(t, err)
	s, err := l.StringValue(msg)
	require.NoError(t, err)
	require.Contains(t, s, "no result for you")
}

func TestPool_BoundsConcurrency(t *testing.T) {
	_, ch, l := newTaskHarness(t)

	pool, err := task.NewPool(2)
	require.NoError(t, err)
	defer pool.Close()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	const tasks = 8
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := task.Spawn(pool, ch,
				func(ctx context.Context) (int, error) {
					n := running.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					running.Add(-1)
					return 0, nil
				},
				func(cx *bridge.TaskContext, result int, err error) error { return err })
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	pool.Close()
	waitIdle(t, l)
	require.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPool_SpawnAfterCloseFails(t *testing.T) {
	_, ch, _ := newTaskHarness(t)

	pool, err := task.NewPool(1)
	require.NoError(t, err)
	pool.Close()

	_, err = task.Spawn(pool, ch,
		func(ctx context.Context) (int, error) { return 0, nil },
		func(cx *bridge.TaskContext, result int, err error) error { return nil })
	require.True(t, errors.HasKind(err, errors.KindClosed), "got %v", err)
}
