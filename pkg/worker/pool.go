// Package worker runs executor work on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/orchestra/internal/logging"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs submitted tasks with at most concurrency of them in flight.
// Submit never blocks: tasks beyond the limit queue on the semaphore.
type Pool struct {
	concurrency int64
	sem         *semaphore.Weighted
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of tasks that may run at once.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = int64(n)
		}
	}
}

// WithPoolLogger configures a logger for the Pool.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		concurrency: 10,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = semaphore.NewWeighted(p.concurrency)
	return p
}

// Submit schedules task. A panicking task is logged and does not take the pool down.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			p.logger.Error("worker pool acquire failed", "err", err)
			return
		}
		defer p.sem.Release(1)
		p.run(task)
	}()
	return nil
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "err", fmt.Sprint(r))
		}
	}()
	task()
}

// Wait blocks until every submitted task, including tasks submitted by
// running tasks, has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stop refuses new tasks and waits for the running ones until ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}
