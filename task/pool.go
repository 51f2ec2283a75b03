package task

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/engine-bridge/engine"
	"github.com/wippyai/engine-bridge/errors"
)

// Pool bounds the number of background tasks running at once. It owns no
// engine state; tasks talk to the engine only through the channel they were
// spawned with.
type Pool struct {
	sem *semaphore.Weighted
	log *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewPool creates a pool running at most size tasks concurrently.
func NewPool(size int64) (*Pool, error) {
	if size <= 0 {
		return nil, errors.InvalidInput(errors.PhaseTask, "pool size must be positive")
	}
	return &Pool{
		sem: semaphore.NewWeighted(size),
		log: engine.Logger(),
	}, nil
}

// acquire reserves a task slot, blocking while the pool is saturated.
func (p *Pool) acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.Closed(errors.PhaseTask, "pool")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return errors.Wrap(errors.PhaseTask, errors.KindTimedOut, err, "acquire task slot")
	}
	return nil
}

func (p *Pool) release() {
	p.sem.Release(1)
	p.wg.Done()
}

// Close stops accepting new tasks and waits for in-flight ones to finish.
// Tasks are never cancelled; work already started runs to completion and its
// completion closure is still delivered.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
