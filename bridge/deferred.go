package bridge

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Deferred is the settlement side of an engine promise. It is safe to move
// across goroutines; settlement is marshaled onto the engine thread through
// the channel the promise was created with. A Deferred settles exactly once:
// the second Resolve or Reject, from any goroutine, fails with
// deferred_settled and has no effect.
type Deferred struct {
	ch      *Channel
	ref     engine.DeferredRef
	id      string
	settled atomic.Bool
}

// NewPromise creates an engine promise and its Deferred settlement token.
// The returned handle is rooted in the context's innermost scope; the
// Deferred may outlive the frame and settle later through ch.
// Requires TierPromises on the binding.
func (cx *Context) NewPromise(ch *Channel) (Handle, *Deferred, error) {
	if err := cx.heapOK("new promise"); err != nil {
		return Handle{}, nil, err
	}
	if ch == nil {
		return Handle{}, nil, errors.InvalidInput(errors.PhaseSettle, "nil channel")
	}
	pb, ok := cx.rt.binding.(engine.PromiseBinding)
	if !ok {
		return Handle{}, nil, errors.Unsupported("promise", cx.rt.tier.String(), engine.TierPromises.String())
	}

	v, ref, err := pb.NewPromise()
	if err != nil {
		return Handle{}, nil, errors.Wrap(errors.PhaseSettle, errors.KindEngineException, err, "create promise")
	}
	d := &Deferred{ch: ch, ref: ref, id: uuid.NewString()}
	return cx.scope.root(v, engine.TypePromise), d, nil
}

// Resolve fulfills the promise with the value built by build, which runs on
// the engine thread under a TaskContext. If build fails, the promise is
// rejected with the translated error instead.
func (d *Deferred) Resolve(build func(*TaskContext) (Handle, error)) error {
	if build == nil {
		return errors.InvalidInput(errors.PhaseSettle, "nil build closure")
	}
	if !d.settled.CompareAndSwap(false, true) {
		return errors.DeferredSettled(d.id)
	}
	return d.ch.Send(func(cx *TaskContext) error {
		h, err := build(cx)
		if err != nil {
			return d.rejectNow(cx, err)
		}
		v, err := h.resolve()
		if err != nil {
			return d.rejectNow(cx, err)
		}
		return d.settleEngine(cx, v, true)
	})
}

// Reject settles the promise with an engine exception translated from err.
func (d *Deferred) Reject(err error) error {
	if !d.settled.CompareAndSwap(false, true) {
		return errors.DeferredSettled(d.id)
	}
	reason := err
	return d.ch.Send(func(cx *TaskContext) error {
		return d.rejectNow(cx, reason)
	})
}

func (d *Deferred) rejectNow(cx *TaskContext, cause error) error {
	v, terr := cx.rt.toEngineValue(cause)
	if terr != nil {
		return errors.Wrap(errors.PhaseSettle, errors.KindEngineException, terr, "build rejection value")
	}
	return d.settleEngine(cx, v, false)
}

func (d *Deferred) settleEngine(cx *TaskContext, v engine.Value, fulfill bool) error {
	pb := cx.rt.binding.(engine.PromiseBinding)
	var err error
	if fulfill {
		err = pb.ResolveDeferred(d.ref, v)
	} else {
		err = pb.RejectDeferred(d.ref, v)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseSettle, errors.KindEngineException, err, "settle promise")
	}
	return nil
}
