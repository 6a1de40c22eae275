package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// WriteBehind flushes low-criticality writes (session activity touches) to
// the durable store asynchronously. Callers must not rely on enqueued work
// surviving a crash before the flush runs.
type WriteBehind struct {
	logger   *slog.Logger
	jobs     chan writeBehindJob
	retries  int
	backoff  time.Duration
	failures atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type writeBehindJob struct {
	name string
	fn   func(ctx context.Context) error
}

func NewWriteBehind(logger *slog.Logger, queueSize, retries int, backoff time.Duration) *WriteBehind {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize < 1 {
		queueSize = 256
	}
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &WriteBehind{
		logger:  logger,
		jobs:    make(chan writeBehindJob, queueSize),
		retries: retries,
		backoff: backoff,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run drains the queue until Close is called or ctx is cancelled. Run is
// expected to be started once, on its own goroutine.
func (w *WriteBehind) Run(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			// Drain whatever was already accepted before shutdown.
			for {
				select {
				case job := <-w.jobs:
					w.flush(ctx, job)
				default:
					return
				}
			}
		case job := <-w.jobs:
			w.flush(ctx, job)
		}
	}
}

// Enqueue accepts a flush job. It reports false when the queue is full or
// the worker is shutting down; the write is then dropped and counted, never
// blocked on.
func (w *WriteBehind) Enqueue(name string, fn func(ctx context.Context) error) bool {
	select {
	case <-w.done:
		w.failures.Add(1)
		return false
	default:
	}
	select {
	case w.jobs <- writeBehindJob{name: name, fn: fn}:
		return true
	default:
		w.failures.Add(1)
		w.logger.Warn("write-behind queue full, dropping job", "job", name)
		return false
	}
}

// Failures reports dropped and permanently failed flushes since startup.
func (w *WriteBehind) Failures() uint64 {
	return w.failures.Load()
}

// Close stops accepting jobs and waits for the worker to drain.
func (w *WriteBehind) Close() {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *WriteBehind) flush(ctx context.Context, job writeBehindJob) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				w.failures.Add(1)
				return
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
		if err = job.fn(ctx); err == nil {
			return
		}
	}
	w.failures.Add(1)
	w.logger.Warn("write-behind flush failed", "job", job.name, "error", err)
}
