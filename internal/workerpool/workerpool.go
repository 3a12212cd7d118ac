// Package workerpool implements the bounded, elastic worker pool spec §5
// calls for: "one dedicated thread pool services paging requests
// demultiplexed from the external framework," shrunk by "coarse idle
// timeouts (order of minutes)."
//
// Grounded on operator-framework-operator-registry's cmd/opm/serve/serve.go,
// which drives its own listener and profiler goroutines through a single
// errgroup.WithContext(ctx); this package generalizes that one-shot fixed
// group into a pool that grows worker goroutines under load and lets idle
// ones exit, using golang.org/x/sync/errgroup for the underlying group
// and first-error propagation.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to the pool.
type Task func(ctx context.Context) error

// Pool services submitted Tasks with between min and max goroutines,
// growing when the queue backs up and shrinking idle workers above min
// back down after idleTimeout.
type Pool struct {
	tasks       chan Task
	min, max    int
	idleTimeout time.Duration

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Int32

	mu      sync.Mutex
	spawned int
}

// New creates a pool and starts its min core workers. The pool stops
// when parent is cancelled or Stop is called.
func New(parent context.Context, min, max int, idleTimeout time.Duration) *Pool {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		tasks:       make(chan Task),
		min:         min,
		max:         max,
		idleTimeout: idleTimeout,
		eg:          eg,
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < min; i++ {
		p.spawnWorker(true)
	}
	return p
}

func (p *Pool) spawnWorker(core bool) {
	p.mu.Lock()
	p.spawned++
	p.mu.Unlock()
	p.active.Add(1)

	p.eg.Go(func() error {
		defer p.active.Add(-1)
		timer := time.NewTimer(p.idleTimeout)
		defer timer.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return nil
			case task, ok := <-p.tasks:
				if !ok {
					return nil
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(p.idleTimeout)
				if err := task(p.ctx); err != nil {
					return err
				}
			case <-timer.C:
				if core {
					timer.Reset(p.idleTimeout)
					continue
				}
				p.mu.Lock()
				p.spawned--
				p.mu.Unlock()
				return nil
			}
		}
	})
}

// Submit enqueues task, spawning an extra worker (up to max) if every
// existing worker is currently busy.
func (p *Pool) Submit(task Task) {
	select {
	case p.tasks <- task:
		return
	default:
	}

	p.mu.Lock()
	grow := p.spawned < p.max
	p.mu.Unlock()
	if grow {
		p.spawnWorker(false)
	}
	p.tasks <- task
}

// Active reports how many workers are currently alive.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Stop cancels outstanding work and waits for every worker to exit,
// returning the first error any task returned, if any.
func (p *Pool) Stop() error {
	p.cancel()
	return p.eg.Wait()
}
