package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/taskmgr/internal/logging"
)

var log = logging.L("workerpool")

var (
	ErrStopped   = errors.New("worker pool is not accepting requests")
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs requests on a fixed number of goroutines fed from a bounded queue.
type Pool struct {
	workers   int
	queue     chan Task
	wg        sync.WaitGroup
	pending   atomic.Int64
	accepting atomic.Bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopChan  chan struct{}
}

// New creates a pool with workers goroutines and a queue of queueSize tasks.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &Pool{
		workers:  workers,
		queue:    make(chan Task, queueSize),
		stopChan: make(chan struct{}),
	}
	p.accepting.Store(true)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task without blocking.
// wg.Add happens before the enqueue so Drain cannot miss the task.
func (p *Pool) Submit(task Task) error {
	if !p.accepting.Load() {
		return ErrStopped
	}

	p.wg.Add(1)
	p.pending.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.pending.Add(-1)
		p.wg.Done()
		log.Warn("worker pool queue full, request rejected", "queueSize", cap(p.queue))
		return ErrQueueFull
	}
}

// Pending returns the number of queued or running tasks.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Workers returns the configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// StopAccepting makes every later Submit fail with ErrStopped.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for queued and running tasks until ctx is done, then releases
// the workers. It reports whether every task finished.
func (p *Pool) Drain(ctx context.Context) bool {
	p.StopAccepting()
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	drained := true
	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		drained = false
		log.Warn("worker pool drain timed out", "pending", p.Pending())
	}

	p.closeOnce.Do(func() {
		close(p.queue)
	})
	return drained
}

// Shutdown stops accepting tasks and drains the pool.
func (p *Pool) Shutdown(ctx context.Context) bool {
	p.StopAccepting()
	return p.Drain(ctx)
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-p.stopChan:
			for {
				select {
				case task, ok := <-p.queue:
					if !ok {
						return
					}
					p.runTask(task)
				default:
					return
				}
			}
		}
	}
}

// runTask executes one task with panic recovery and balances Submit's wg.Add.
func (p *Pool) runTask(task Task) {
	defer p.wg.Done()
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("request panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
