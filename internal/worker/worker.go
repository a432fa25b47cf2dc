package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Enqueue once the pool's context is done.
var ErrClosed = errors.New("worker pool closed")

// Options configures a Pool.
type Options struct {
	// Concurrency bounds how many jobs run at once across all keys.
	Concurrency int
	// QueueSize is the per-key backlog before Enqueue blocks.
	QueueSize int
	// IdleTimeout stops a key's goroutine after this long without work.
	IdleTimeout time.Duration
	// DrainTimeout is how long queued jobs keep running after the pool's
	// context is done. Job contexts are cancelled when it elapses.
	DrainTimeout time.Duration
	// OnWorkerChange is called with +1/-1 as key goroutines start and stop.
	OnWorkerChange func(delta int)
}

// DefaultDrainTimeout is used when Options.DrainTimeout is zero.
const DefaultDrainTimeout = 15 * time.Second

type keyWorker[J any] struct {
	jobs    chan J
	wake    chan struct{} // signalled when an enqueue gives up without sending
	pending int           // jobs enqueued or being sent but not yet handled; guarded by Pool.mu
}

// Pool runs jobs sequentially per key and concurrently across keys.
//
// Once the pool's context is done Enqueue refuses new jobs, but every job
// already accepted still runs. Jobs see a context that outlives the pool's
// context by DrainTimeout.
type Pool[K comparable, J any] struct {
	ctx    context.Context
	jobCtx context.Context
	sem    chan struct{}
	handle func(context.Context, J)
	opts   Options

	mu      sync.Mutex
	closed  bool
	workers map[K]*keyWorker[J]
	wg      sync.WaitGroup
}

// NewPool creates a pool that accepts jobs until ctx is done.
func NewPool[K comparable, J any](ctx context.Context, opts Options, handle func(context.Context, J)) *Pool[K, J] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = time.Minute
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	p := &Pool[K, J]{
		ctx:     ctx,
		jobCtx:  jobCtx,
		sem:     make(chan struct{}, opts.Concurrency),
		handle:  handle,
		opts:    opts,
		workers: make(map[K]*keyWorker[J]),
	}
	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		time.AfterFunc(opts.DrainTimeout, cancelJobs)
	})
	return p
}

// Enqueue queues job behind any earlier jobs for key. It blocks while the
// key's queue is full and returns ErrClosed once the pool stopped accepting.
func (p *Pool[K, J]) Enqueue(ctx context.Context, key K, job J) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed || p.ctx.Err() != nil {
		p.mu.Unlock()
		return ErrClosed
	}
	w, ok := p.workers[key]
	if !ok {
		w = &keyWorker[J]{jobs: make(chan J, p.opts.QueueSize), wake: make(chan struct{}, 1)}
		p.workers[key] = w
		p.wg.Add(1)
		go p.run(key, w)
		p.changed(1)
	}
	w.pending++
	p.mu.Unlock()

	// an accepted job is always delivered; a draining worker frees queue space
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		p.done(w)
		select {
		case w.wake <- struct{}{}:
		default:
		}
		return ctx.Err()
	}
}

func (p *Pool[K, J]) run(key K, w *keyWorker[J]) {
	defer p.wg.Done()
	defer p.changed(-1)

	idle := time.NewTimer(p.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.drain(key, w)
			return
		case job := <-w.jobs:
			p.process(w, job)
			resetTimer(idle, p.opts.IdleTimeout)
		case <-idle.C:
			p.mu.Lock()
			if w.pending == 0 {
				delete(p.workers, key)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(p.opts.IdleTimeout)
		}
	}
}

// drain handles every job accepted for w before the pool closed.
func (p *Pool[K, J]) drain(key K, w *keyWorker[J]) {
	for {
		p.mu.Lock()
		if w.pending == 0 {
			delete(p.workers, key)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		select {
		case job := <-w.jobs:
			p.process(w, job)
		case <-w.wake:
		}
	}
}

func (p *Pool[K, J]) process(w *keyWorker[J], job J) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()
	defer p.done(w)
	p.handle(p.jobCtx, job)
}

func (p *Pool[K, J]) done(w *keyWorker[J]) {
	p.mu.Lock()
	w.pending--
	p.mu.Unlock()
}

func (p *Pool[K, J]) changed(delta int) {
	if p.opts.OnWorkerChange != nil {
		p.opts.OnWorkerChange(delta)
	}
}

// Active returns the number of keys with a running goroutine.
func (p *Pool[K, J]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Wait blocks until every worker has exited. Cancel the pool's context
// first; queued jobs are handled before Wait returns.
func (p *Pool[K, J]) Wait() {
	p.wg.Wait()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
