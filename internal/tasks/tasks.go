// Package tasks runs fire-and-forget background work such as play-count reporting.
//
// Submissions never block: when the buffer is full the task is dropped.
// Failed tasks are logged and never retried.
package tasks

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Func is a unit of background work
type Func func(ctx context.Context) error

// Stats reports counters since the queue was created
type Stats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Config contains configuration for the task queue
type Config struct {
	Workers  int           // Concurrent workers (default 1)
	Buffer   int           // Pending task capacity (default 64)
	Timeout  time.Duration // Per-task deadline (default 10s)
	OnResult func(id, name string, err error)
}

type task struct {
	id   string
	name string
	fn   Func
}

// Queue is a bounded, retry-free background task queue
type Queue struct {
	ch       chan task
	timeout  time.Duration
	onResult func(id, name string, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	submitted int64
	completed int64
	failed    int64
	dropped   int64
}

// New starts a task queue with cfg.Workers workers
func New(cfg Config) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ch:       make(chan task, buffer),
		timeout:  timeout,
		onResult: cfg.OnResult,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn and returns its id. It returns false if the queue is
// full or closed; the caller is never blocked.
func (q *Queue) Submit(name string, fn Func) (string, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		atomic.AddInt64(&q.dropped, 1)
		return "", false
	}

	t := task{id: uuid.NewString(), name: name, fn: fn}
	select {
	case q.ch <- t:
		atomic.AddInt64(&q.submitted, 1)
		return t.id, true
	default:
		atomic.AddInt64(&q.dropped, 1)
		log.Printf("[TASKS] Queue full, dropping %s", name)
		return "", false
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for t := range q.ch {
		ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
		err := t.fn(ctx)
		cancel()

		if err != nil {
			atomic.AddInt64(&q.failed, 1)
			log.Printf("[TASKS] %s (%s) failed: %v", t.name, t.id, err)
		} else {
			atomic.AddInt64(&q.completed, 1)
		}

		if q.onResult != nil {
			q.onResult(t.id, t.name, err)
		}
	}
}

// Stats returns a snapshot of the counters
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&q.submitted),
		Completed: atomic.LoadInt64(&q.completed),
		Failed:    atomic.LoadInt64(&q.failed),
		Dropped:   atomic.LoadInt64(&q.dropped),
	}
}

// Close stops accepting work and waits for queued tasks to finish.
// Tasks still running when ctx expires see their context cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
