package enginelocal

import (
	"context"
	"sync"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// loop is the engine's event loop: a single goroutine draining an unbounded
// queue of callbacks, each run under the execution slot.
type loop struct {
	l       *Local
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	busy    bool
	stopped bool
	done    chan struct{}
}

func newLoop(l *Local) *loop {
	lo := &loop{l: l, done: make(chan struct{})}
	lo.cond = sync.NewCond(&lo.mu)
	go lo.run()
	return lo
}

func (lo *loop) run() {
	for {
		lo.mu.Lock()
		for len(lo.queue) == 0 && !lo.stopped {
			lo.cond.Wait()
		}
		if len(lo.queue) == 0 && lo.stopped {
			lo.mu.Unlock()
			close(lo.done)
			return
		}
		fn := lo.queue[0]
		lo.queue = lo.queue[1:]
		lo.busy = true
		lo.mu.Unlock()

		lo.l.Enter(fn)

		lo.mu.Lock()
		lo.busy = false
		lo.cond.Broadcast()
		lo.mu.Unlock()
	}
}

func (lo *loop) enqueue(fn func()) error {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	if lo.stopped {
		return errors.Closed(errors.PhaseEngine, "event loop")
	}
	lo.queue = append(lo.queue, fn)
	lo.cond.Broadcast()
	return nil
}

// stop drains remaining callbacks and waits for the loop goroutine to exit.
func (lo *loop) stop() {
	lo.mu.Lock()
	if lo.stopped {
		lo.mu.Unlock()
		<-lo.done
		return
	}
	lo.stopped = true
	lo.cond.Broadcast()
	lo.mu.Unlock()
	<-lo.done
}

func (lo *loop) idle() bool {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	return len(lo.queue) == 0 && !lo.busy
}

// WaitIdle blocks until the event loop has no queued or running callbacks.
func (l *Local) WaitIdle(ctx context.Context) error {
	lo := l.loop
	ready := make(chan struct{})
	go func() {
		lo.mu.Lock()
		for (len(lo.queue) > 0 || lo.busy) && !lo.stopped {
			lo.cond.Wait()
		}
		lo.mu.Unlock()
		close(ready)
	}()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch is a registered thread-safe callback (engine.Dispatch).
type dispatch struct {
	l      *Local
	name   string
	fn     func()
	mu     sync.Mutex
	refd   bool
	closed bool
}

// NewDispatch registers fn for invocation on the event loop, once per
// Signal. New dispatches start referenced.
func (l *Local) NewDispatch(name string, fn func()) (engine.Dispatch, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseEngine, "nil dispatch callback")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.Closed(errors.PhaseEngine, "engine")
	}
	l.refs++
	l.mu.Unlock()

	return &dispatch{l: l, name: name, fn: fn, refd: true}, nil
}

func (d *dispatch) Signal() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.Closed(errors.PhaseEngine, "dispatch "+d.name)
	}
	d.mu.Unlock()

	if err := d.l.loop.enqueue(d.fn); err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindClosed, err, "signal "+d.name)
	}
	return nil
}

func (d *dispatch) Ref(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || on == d.refd {
		return
	}
	d.refd = on
	d.l.mu.Lock()
	if on {
		d.l.refs++
	} else {
		d.l.refs--
	}
	d.l.mu.Unlock()
}

func (d *dispatch) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.refd {
		d.l.mu.Lock()
		d.l.refs--
		d.l.mu.Unlock()
	}
	return nil
}

// Alive reports whether any referenced dispatch is keeping the loop (and in
// a real host, the process) alive.
func (l *Local) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs > 0
}
