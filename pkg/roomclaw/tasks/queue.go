// Package tasks – queue.go provides the bounded background task queue used
// for durable-memory writes and relevance-index submissions. It replaces
// fire-and-forget goroutines: submission is non-blocking and reports
// backpressure, task failures are counted and logged, and Close drains
// outstanding work. Completion stays eventually consistent relative to the
// next wake cycle's render.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull signals backpressure: the task was not accepted.
	ErrQueueFull = errors.New("tasks: queue full")

	// ErrClosed is returned for submissions after Close.
	ErrClosed = errors.New("tasks: queue closed")
)

const (
	// DefaultWorkers is the number of task workers.
	DefaultWorkers = 2

	// DefaultDepth is the queue buffer size.
	DefaultDepth = 256
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Queue runs background tasks on a fixed worker pool over a bounded buffer.
type Queue struct {
	ch     chan task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	submitted atomic.Int64
	failures  atomic.Int64
	dropped   atomic.Int64

	logger *slog.Logger
}

// NewQueue creates and starts a queue with the given worker count and
// buffer depth. Zero values take defaults.
func NewQueue(workers, depth int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ch:     make(chan task, depth),
		cancel: cancel,
		logger: logger.With("component", "tasks"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Submit enqueues a task without blocking. Returns ErrQueueFull when the
// buffer is at capacity and ErrClosed after Close.
func (q *Queue) Submit(name string, fn Func) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- task{name: name, fn: fn}:
		q.submitted.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("task dropped: queue full", "task", name)
		return ErrQueueFull
	}
}

// Close stops accepting tasks, waits for queued work to drain, then stops
// the workers.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

// Failures returns how many tasks returned an error.
func (q *Queue) Failures() int64 { return q.failures.Load() }

// Dropped returns how many submissions were rejected for backpressure.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Submitted returns how many tasks were accepted.
func (q *Queue) Submitted() int64 { return q.submitted.Load() }

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.ch {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.failures.Add(1)
					q.logger.Error("task panic", "task", t.name, "panic", r)
				}
			}()
			if err := t.fn(ctx); err != nil {
				q.failures.Add(1)
				q.logger.Warn("task failed", "task", t.name, "error", err)
			}
		}()
	}
}
