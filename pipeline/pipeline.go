package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed is returned when Submit is called after shutdown.
	ErrPoolClosed = errors.New("pipeline: closed")
)

// Job is a unit of work executed by a pool worker.
type Job func()

// Pool is a fixed-size set of workers shared by every fan-out in the process.
type Pool struct {
	jobCh   chan Job
	workers int

	wg sync.WaitGroup

	mu      sync.Mutex // guards started/closed
	started bool
	closed  bool

	completed atomic.Int64
	panics    atomic.Int64

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPool builds a pool of size workers with a small submission buffer.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		jobCh:    make(chan Job, size),
		workers:  size,
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines. Calling it more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.workers
}

// Submit enqueues job, blocking while every worker is busy and the buffer is
// full. It returns ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return nil
	}
	if p.isClosed() {
		return ErrPoolClosed
	}
	return p.enqueue(ctx, job)
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.jobCh)
	})

	p.wg.Wait()
	return nil
}

// Stats returns the number of completed and panicked jobs.
func (p *Pool) Stats() (completed, panicked int64) {
	return p.completed.Load(), p.panics.Load()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobCh {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			slog.Error("pipeline job panicked", slog.Any("panic", r))
		}
	}()
	job()
	p.completed.Add(1)
}

func (p *Pool) enqueue(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPoolClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.jobCh <- job:
		return nil
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
