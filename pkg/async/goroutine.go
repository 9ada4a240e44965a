package async

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo executes a function in a goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// The task context inherits the parent's values (request ID, logger) but NOT
// its cancellation: handlers use SafeGo for work that must finish after the
// response is written (audit records), and the request context is canceled
// the moment the handler returns.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "audit record", func(ctx context.Context) error {
//	    return recorder.Record(ctx, event)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	detached := context.WithoutCancel(parentCtx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			// Log error but don't crash; the caller already moved on.
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// WorkerPool manages a fixed set of workers draining tasks from a channel.
// It bounds the concurrency of background writes (the audit recorder) so a
// burst of requests cannot fan out into unbounded goroutines.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, "audit writes", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return store.Insert(ctx, event)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*4),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool. Returns an error once the pool has
// been shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// Send on closed workCh: shutdown raced the submit.
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown closes the pool and waits up to timeout for workers to drain the
// remaining tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		close(p.workCh)

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(p.ctx, p.timeout)

			func() {
				defer cancel()
				defer func() {
					if r := recover(); r != nil {
						log.Printf("[WorkerPool] PANIC in worker %d (%s): %v\nStack trace:\n%s",
							id, p.taskName, r, string(debug.Stack()))
					}
				}()

				if err := fn(ctx); err != nil {
					log.Printf("[WorkerPool] Error in %s: %v", p.taskName, err)
				}
			}()
		}
	}
}
