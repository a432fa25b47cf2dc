package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type job struct {
	key int
	seq int
}

func TestPoolSerializesPerKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		seen    = map[int][]int{}
		running = map[int]bool{}
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	p := NewPool[int, job](ctx, Options{Concurrency: 8}, func(_ context.Context, j job) {
		defer wg.Done()
		mu.Lock()
		if running[j.key] {
			overlap.Store(true)
		}
		running[j.key] = true
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running[j.key] = false
		seen[j.key] = append(seen[j.key], j.seq)
		mu.Unlock()
	})

	for seq := 0; seq < 10; seq++ {
		for key := 0; key < 3; key++ {
			wg.Add(1)
			if err := p.Enqueue(context.Background(), key, job{key: key, seq: seq}); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two jobs for the same key ran concurrently")
	}
	for key := 0; key < 3; key++ {
		for i, seq := range seen[key] {
			if seq != i {
				t.Fatalf("key %d ran out of order: %v", key, seen[key])
			}
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		current, peak atomic.Int32
		wg            sync.WaitGroup
	)
	p := NewPool[int, int](ctx, Options{Concurrency: 2}, func(context.Context, int) {
		defer wg.Done()
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
	})

	for key := 0; key < 8; key++ {
		wg.Add(1)
		_ = p.Enqueue(context.Background(), key, key)
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds 2", got)
	}
}

func TestPoolIdleWorkersExit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var changes atomic.Int32
	done := make(chan struct{}, 1)
	p := NewPool[int, int](ctx, Options{
		IdleTimeout:    10 * time.Millisecond,
		OnWorkerChange: func(d int) { changes.Add(int32(d)) },
	}, func(context.Context, int) { done <- struct{}{} })

	_ = p.Enqueue(context.Background(), 1, 1)
	<-done
	if p.Active() != 1 {
		t.Fatalf("Active = %d, want 1", p.Active())
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker did not exit")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// a new job for the same key starts a fresh worker
	_ = p.Enqueue(context.Background(), 1, 2)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job after idle exit was not handled")
	}

	cancel()
	p.Wait()
	if got := changes.Load(); got != 0 {
		t.Errorf("worker start/stop imbalance: %d", got)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool[int, int](ctx, Options{}, func(context.Context, int) {})
	cancel()
	if err := p.Enqueue(context.Background(), 1, 1); err != ErrClosed {
		t.Errorf("Enqueue after close = %v, want ErrClosed", err)
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var handled, canceled atomic.Int32
	started := make(chan struct{}, 1)
	p := NewPool[int, int](ctx, Options{}, func(jobCtx context.Context, _ int) {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(5 * time.Millisecond)
		if jobCtx.Err() != nil {
			canceled.Add(1)
		}
		handled.Add(1)
	})

	const n = 5
	for i := 0; i < n; i++ {
		if err := p.Enqueue(context.Background(), 1, i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	<-started
	cancel()
	p.Wait()

	if got := handled.Load(); got != n {
		t.Errorf("handled %d jobs, want %d", got, n)
	}
	if got := canceled.Load(); got != 0 {
		t.Errorf("%d jobs ran with a cancelled context", got)
	}
	if err := p.Enqueue(context.Background(), 1, n); err != ErrClosed {
		t.Errorf("Enqueue after close = %v, want ErrClosed", err)
	}
}

func TestDrainTimeoutCancelsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var jobErr atomic.Value
	p := NewPool[int, int](ctx, Options{DrainTimeout: 20 * time.Millisecond}, func(jobCtx context.Context, _ int) {
		close(started)
		<-jobCtx.Done()
		jobErr.Store(jobCtx.Err())
	})

	if err := p.Enqueue(context.Background(), 1, 1); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the drain timeout")
	}
	if err, _ := jobErr.Load().(error); err != context.Canceled {
		t.Errorf("job context error = %v, want context.Canceled", err)
	}
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex[int64]()

	unlock := km.Lock(1)
	acquired := make(chan struct{})
	go func() {
		u := km.Lock(1)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key did not block")
	case <-time.After(20 * time.Millisecond):
	}

	// a different key is independent
	other := km.Lock(2)
	other()

	unlock()
	unlock() // idempotent
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	deadline := time.Now().Add(time.Second)
	for km.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entries leaked: %d", km.Len())
		}
		time.Sleep(time.Millisecond)
	}
}
