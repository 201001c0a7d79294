// Package runqueue serializes operations through a single worker goroutine.
//
// Operations are executed strictly one at a time in the order they were
// accepted. Each caller gets its own operation's result back; a failing or
// panicking operation does not affect the ones queued behind it.
package runqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/shared-lists/internal/metrics"
)

var (
	// ErrClosed is returned by Run after Close has been called.
	ErrClosed = errors.New("runqueue: closed")
	// ErrPanic wraps the value recovered from a panicking operation.
	ErrPanic = errors.New("runqueue: operation panicked")
)

// Op is one unit of serialized work.
type Op func(ctx context.Context) error

type job struct {
	ctx      context.Context
	op       Op
	result   chan error
	enqueued time.Time
}

// Queue runs submitted operations in FIFO order on one goroutine.
type Queue struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	jobs chan job

	// mu orders Run's send against Close's close(jobs).
	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a queue and starts its worker.
// size is the number of accepted operations that may wait for the worker.
func New(logger *slog.Logger, size int, m *metrics.Metrics) *Queue {
	if size < 0 {
		size = 0
	}
	q := &Queue{
		logger:  logger,
		metrics: m,
		jobs:    make(chan job, size),
	}

	q.wg.Add(1)
	go q.worker()

	return q
}

// Run submits op and waits for its result.
//
// ctx bounds only the wait for the queue to accept op. Once accepted the
// operation runs to completion and Run returns its error, so a caller that
// gives up cannot leave a half-applied change behind.
func (q *Queue) Run(ctx context.Context, op Op) error {
	j := job{
		ctx:      context.WithoutCancel(ctx),
		op:       op,
		result:   make(chan error, 1),
		enqueued: time.Now(),
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	q.metrics.QueueDepth(1)
	err := <-j.result
	q.metrics.QueueDepth(-1)
	return err
}

// Close stops accepting operations, waits for the accepted ones to finish
// and stops the worker. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()

		q.wg.Wait()
		q.logger.Info("runqueue stopped")
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for j := range q.jobs {
		q.metrics.QueueWait(time.Since(j.enqueued))
		j.result <- q.exec(j)
	}
}

func (q *Queue) exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("runqueue operation panicked", "panic", r)
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return j.op(j.ctx)
}
