package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Channel is a many-producer, one-consumer dispatch queue delivering
// closures onto the engine's execution slot. Send is safe from any thread,
// including the engine thread itself; each closure runs later under a fresh
// TaskContext when the host event loop drains the queue.
//
// Ordering: closures enqueued from one sending goroutine are delivered in
// submission order. No ordering is guaranteed across senders or channels.
type Channel struct {
	rt       *Runtime
	id       string
	dispatch engine.Dispatch
	capacity int // 0 = unbounded
	log      *zap.Logger

	mu      sync.Mutex
	notFull *sync.Cond
	queue   []*queued
	closing bool
}

type queued struct {
	fn func(*TaskContext) error
}

// NewChannel creates a channel backed by a thread-safe dispatch registration
// on the host event loop. capacity bounds the queue; 0 means unbounded.
// Requires the task subsystem to be enabled and TierDispatch on the binding.
func (rt *Runtime) NewChannel(capacity int) (*Channel, error) {
	if !rt.tasks {
		return nil, errors.InvalidInput(errors.PhaseInit, "task subsystem disabled by configuration")
	}
	if capacity < 0 {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "negative channel capacity")
	}
	d, ok := rt.binding.(engine.Dispatcher)
	if !ok {
		return nil, errors.Unsupported("channel", rt.tier.String(), engine.TierDispatch.String())
	}

	ch := &Channel{
		rt:       rt,
		id:       uuid.NewString(),
		capacity: capacity,
		log:      rt.log,
	}
	ch.notFull = sync.NewCond(&ch.mu)

	dispatch, err := d.NewDispatch("channel-"+ch.id, ch.drainOne)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDispatch, errors.KindClosed, err, "register dispatch")
	}
	ch.dispatch = dispatch
	return ch, nil
}

// Send enqueues a closure and signals the event loop to wake, returning
// immediately. On a bounded channel it blocks while the queue is full. It
// fails with channel_closed after Close.
func (ch *Channel) Send(fn func(*TaskContext) error) error {
	return ch.send(fn, true)
}

// TrySend is Send except it never blocks: a full bounded queue is a
// queue_full error, a closed channel a channel_closed error.
func (ch *Channel) TrySend(fn func(*TaskContext) error) error {
	return ch.send(fn, false)
}

func (ch *Channel) send(fn func(*TaskContext) error, wait bool) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "nil closure")
	}

	ch.mu.Lock()
	for ch.capacity > 0 && len(ch.queue) >= ch.capacity && !ch.closing {
		if !wait {
			ch.mu.Unlock()
			return errors.QueueFull(ch.capacity)
		}
		ch.notFull.Wait()
	}
	if ch.closing {
		ch.mu.Unlock()
		return errors.ChannelClosed("send")
	}
	item := &queued{fn: fn}
	ch.queue = append(ch.queue, item)
	ch.mu.Unlock()

	if err := ch.dispatch.Signal(); err != nil {
		ch.unqueue(item)
		return errors.Wrap(errors.PhaseDispatch, errors.KindChannelClosed, err, "signal")
	}
	return nil
}

func (ch *Channel) unqueue(item *queued) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for i, q := range ch.queue {
		if q == item {
			ch.queue = append(ch.queue[:i], ch.queue[i+1:]...)
			ch.notFull.Broadcast()
			return
		}
	}
}

// SendAndWait enqueues a closure like Send, then parks the calling thread
// until it has run on the engine thread, returning the closure's error.
// A timeout > 0 bounds the wait; on expiry SendAndWait returns a timed_out
// error without retracting the closure — it still runs, its result discarded.
//
// Calling SendAndWait from the engine thread while a context is live
// deadlocks: the queue cannot drain until the frame returns.
func (ch *Channel) SendAndWait(fn func(*TaskContext) error, timeout time.Duration) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "nil closure")
	}

	done := make(chan error, 1)
	err := ch.Send(func(cx *TaskContext) error {
		err := fn(cx)
		done <- err
		return err
	})
	if err != nil {
		return err
	}

	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.TimedOut(timeout)
	}
}

// drainOne runs on the engine's execution slot, once per accepted signal,
// delivering exactly one queued closure under a fresh TaskContext.
func (ch *Channel) drainOne() {
	ch.mu.Lock()
	if len(ch.queue) == 0 {
		ch.mu.Unlock()
		return
	}
	item := ch.queue[0]
	ch.queue = ch.queue[1:]
	ch.notFull.Broadcast()
	last := ch.closing && len(ch.queue) == 0
	ch.mu.Unlock()

	ch.rt.runDispatched(item.fn)

	if last {
		if err := ch.dispatch.Close(); err != nil {
			ch.log.Warn("dispatch close failed", zap.String("channel", ch.id), logErr(err))
		}
	}
}

// Ref marks the channel as keeping the host process alive while it exists.
// Channels start referenced.
func (ch *Channel) Ref() { ch.dispatch.Ref(true) }

// Unref allows the host process to exit even while the channel exists.
func (ch *Channel) Unref() { ch.dispatch.Ref(false) }

// Close drops the receiving side: subsequent sends fail with channel_closed.
// Closures already accepted are still delivered before the underlying
// dispatch registration is released.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closing {
		ch.mu.Unlock()
		return nil
	}
	ch.closing = true
	empty := len(ch.queue) == 0
	ch.notFull.Broadcast()
	ch.mu.Unlock()

	if empty {
		return ch.dispatch.Close()
	}
	return nil
}
