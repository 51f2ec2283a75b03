package task

import (
	"context"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/engine-bridge/bridge"
	"github.com/wippyai/engine-bridge/errors"
)

// Spawn runs work on a pool goroutine and delivers its outcome to the engine
// thread through ch, where complete runs under a TaskContext with the result
// or the error. It returns the task id once the work has been admitted.
//
// A panic in work does not crash the process: it is recovered into a
// task_aborted error carrying the panic value and stack, and complete still
// runs with that error.
func Spawn[T any](p *Pool, ch *bridge.Channel, work func(ctx context.Context) (T, error), complete func(cx *bridge.TaskContext, result T, err error) error) (string, error) {
	if work == nil || complete == nil {
		return "", errors.InvalidInput(errors.PhaseTask, "nil work or completion closure")
	}
	if err := p.acquire(context.Background()); err != nil {
		return "", err
	}

	id := uuid.NewString()
	p.log.Debug("task spawned", zap.String("task", id))

	go func() {
		defer p.release()

		result, err := runGuarded(id, p.log, work)
		if serr := ch.Send(func(cx *bridge.TaskContext) error {
			return complete(cx, result, err)
		}); serr != nil {
			p.log.Warn("task completion dropped",
				zap.String("task", id), zap.Error(serr))
		}
	}()
	return id, nil
}

// runGuarded executes work, converting a panic into a task_aborted error.
func runGuarded[T any](id string, log *zap.Logger, work func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.TaskAborted(r, debug.Stack())
			log.Error("task aborted", zap.String("task", id), zap.Any("panic", r))
		}
	}()
	return work(context.Background())
}

// SpawnPromise runs work on a pool goroutine and exposes its outcome to the
// engine as a promise. On success the promise fulfills with the value built
// by build on the engine thread; on error, including a recovered panic, it
// rejects with the translated error.
//
// The returned handle is rooted in cx's innermost scope and follows the
// usual scope rules; the settlement machinery keeps the promise itself alive
// until it settles.
func SpawnPromise[T any](cx *bridge.Context, p *Pool, ch *bridge.Channel, work func(ctx context.Context) (T, error), build func(cx *bridge.TaskContext, result T) (bridge.Handle, error)) (bridge.Handle, error) {
	if work == nil || build == nil {
		return bridge.Handle{}, errors.InvalidInput(errors.PhaseTask, "nil work or build closure")
	}

	promise, d, err := cx.NewPromise(ch)
	if err != nil {
		return bridge.Handle{}, err
	}
	if err := p.acquire(context.Background()); err != nil {
		if rerr := d.Reject(err); rerr != nil {
			p.log.Warn("promise rejection dropped", zap.Error(rerr))
		}
		return bridge.Handle{}, err
	}

	id := uuid.NewString()
	p.log.Debug("promise task spawned", zap.String("task", id))

	go func() {
		defer p.release()

		result, err := runGuarded(id, p.log, work)
		if err != nil {
			if rerr := d.Reject(err); rerr != nil {
				p.log.Warn("promise rejection dropped",
					zap.String("task", id), zap.Error(rerr))
			}
			return
		}
		if rerr := d.Resolve(func(cx *bridge.TaskContext) (bridge.Handle, error) {
			return build(cx, result)
		}); rerr != nil {
			p.log.Warn("promise resolution dropped",
				zap.String("task", id), zap.Error(rerr))
		}
	}()
	return promise, nil
}
