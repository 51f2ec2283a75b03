package bridge

import (
	"sync/atomic"

	"github.com/wippyai/engine-bridge/errors"
)

var localKeySeq atomic.Uint64

// LocalKey is a typed slot of instance-local storage: one value of T per
// Runtime, not per process. Two runtimes in one process see independent
// values under the same key. Keys are cheap; declare them as package-level
// variables.
//
// Access requires a Context, which confines reads and writes to the engine's
// execution slot, so no further locking is needed around the stored value.
type LocalKey[T any] struct {
	id uint64
}

// NewLocalKey allocates a fresh storage slot.
func NewLocalKey[T any]() *LocalKey[T] {
	return &LocalKey[T]{id: localKeySeq.Add(1)}
}

// sentinel marking a slot whose initializer is currently running.
type localInitializing struct{}

// Get returns the stored value, or false if this runtime has no value for
// the key yet.
func (k *LocalKey[T]) Get(cx *Context) (T, bool) {
	var zero T
	rt := cx.rt
	rt.stateMu.Lock()
	v, ok := rt.locals[k.id]
	rt.stateMu.Unlock()
	if !ok {
		return zero, false
	}
	if _, busy := v.(localInitializing); busy {
		return zero, false
	}
	return v.(T), true
}

// Set stores a value for this runtime, replacing any previous one.
func (k *LocalKey[T]) Set(cx *Context, val T) {
	rt := cx.rt
	rt.stateMu.Lock()
	if rt.locals != nil {
		rt.locals[k.id] = val
	}
	rt.stateMu.Unlock()
}

// GetOrInit returns the stored value, running init to produce it on first
// access. init runs under the caller's context; if it re-enters GetOrInit
// for the same key, the recursive call fails instead of deadlocking.
func (k *LocalKey[T]) GetOrInit(cx *Context, init func(*Context) (T, error)) (T, error) {
	var zero T
	rt := cx.rt

	rt.stateMu.Lock()
	if rt.locals == nil {
		rt.stateMu.Unlock()
		return zero, errors.Closed(errors.PhaseHeap, "runtime")
	}
	if v, ok := rt.locals[k.id]; ok {
		rt.stateMu.Unlock()
		if _, busy := v.(localInitializing); busy {
			return zero, errors.InvalidInput(errors.PhaseHeap, "recursive local storage initialization")
		}
		return v.(T), nil
	}
	rt.locals[k.id] = localInitializing{}
	rt.stateMu.Unlock()

	val, err := init(cx)

	rt.stateMu.Lock()
	if err != nil {
		delete(rt.locals, k.id)
	} else if rt.locals != nil {
		rt.locals[k.id] = val
	}
	rt.stateMu.Unlock()

	if err != nil {
		return zero, err
	}
	return val, nil
}
