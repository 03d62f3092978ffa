// Package scheduler implements the bounded-concurrency worker pool that
// Uploader and Downloader submit block-level I/O tasks to.
//
// The scheduler makes no ordering guarantee across submitted tasks and
// never cancels anything on its own initiative — it is order-agnostic by
// design (transfer §4.4); first-error detection and abort live in the
// orchestrator that owns a TransferState.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Result is one task's terminal outcome, as returned by JoinAll.
type Result struct {
	Value any
	Err   error
}

// Handle is a single submitted task's completion status.
type Handle struct {
	done  chan struct{}
	value any
	err   error
}

// Ready reports whether the task has finished.
func (h *Handle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the task's error, blocking until the task completes.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Value returns the task's result value, blocking until the task
// completes.
func (h *Handle) Value() any {
	<-h.done
	return h.value
}

// Scheduler is a fixed-size worker pool: Submit blocks the caller once P
// tasks are outstanding (back-pressure), and tasks run concurrently with
// no ordering guarantee relative to one another.
type Scheduler struct {
	pool int

	sem *semaphore.Weighted

	mu      sync.Mutex
	handles []*Handle
	wg      sync.WaitGroup
}

// DefaultPoolSize is used when New is called with a non-positive p.
const DefaultPoolSize = 5

// New creates a Scheduler bounded to p concurrent tasks.
func New(p int) *Scheduler {
	if p <= 0 {
		p = DefaultPoolSize
	}
	return &Scheduler{
		pool: p,
		sem:  semaphore.NewWeighted(int64(p)),
	}
}

// Submit enqueues task, blocking until a worker slot is free or ctx is
// canceled. The task itself receives ctx so it can honor cancellation
// mid-flight.
func (s *Scheduler) Submit(ctx context.Context, task func(ctx context.Context) (any, error)) (*Handle, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, ctx.Err()
	}

	h := &Handle{done: make(chan struct{})}

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer close(h.done)

		h.value, h.err = task(ctx)
	}()

	return h, nil
}

// PollCompleted returns the handles that have completed since the last
// call, removing them from the pending set. It never blocks.
func (s *Scheduler) PollCompleted() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done []*Handle
	var pending []*Handle
	for _, h := range s.handles {
		if h.Ready() {
			done = append(done, h)
		} else {
			pending = append(pending, h)
		}
	}
	s.handles = pending
	return done
}

// JoinAll waits for every outstanding task to finish and returns their
// terminal results. After JoinAll returns, the scheduler holds no
// pending handles.
func (s *Scheduler) JoinAll() []Result {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	s.wg.Wait()

	results := make([]Result, len(handles))
	for i, h := range handles {
		results[i] = Result{Value: h.value, Err: h.err}
	}
	return results
}

// PoolSize returns the configured worker pool size.
func (s *Scheduler) PoolSize() int {
	return s.pool
}
