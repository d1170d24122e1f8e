package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsEveryJob(t *testing.T) {
	p := NewPool(4)
	p.Start()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := p.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := ran.Load(); got != 100 {
		t.Fatalf("ran=%d, want 100", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if completed, _ := p.Stats(); completed != 100 {
		t.Fatalf("completed=%d, want 100", completed)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := NewPool(size)
	p.Start()
	defer p.Close()

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency=%d, want <= %d", got, size)
	}
}

func TestPoolSubmitAfterClose(t *testing.T) {
	p := NewPool(1)
	p.Start()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolSubmitHonoursContext(t *testing.T) {
	p := NewPool(1)
	p.Start()

	block := make(chan struct{})
	defer func() {
		close(block)
		p.Close()
	}()

	// One job occupies the worker, one fills the buffer.
	for i := 0; i < 2; i++ {
		if err := p.Submit(context.Background(), func() { <-block }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1)
	p.Start()

	done := make(chan struct{})
	if err := p.Submit(context.Background(), func() { panic("bad page") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(context.Background(), func() { close(done) }); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not survive a panicking job")
	}
	p.Close()
	if _, panicked := p.Stats(); panicked != 1 {
		t.Fatalf("panicked=%d, want 1", panicked)
	}
}
