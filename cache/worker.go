package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
)

// publishQueueDepth bounds the number of batches waiting behind the single
// consumer. A full queue rejects new flushes instead of blocking producers.
const publishQueueDepth = 128

type publishJob struct {
	run     func() bool
	promise *future.Promise[bool]
}

// worker is the single-consumer publish queue of one cache. Jobs drain
// strictly in submission order, which is the only mechanism serializing
// Publisher calls and ordering batches.
type worker struct {
	name string
	jobs chan publishJob
	done chan struct{}

	mu     sync.Mutex // guards closed + submission vs close
	closed bool
}

func newWorker(name string) *worker {
	w := &worker{
		name: name,
		jobs: make(chan publishJob, publishQueueDepth),
		done: make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *worker) drain() {
	defer close(w.done)
	for job := range w.jobs {
		job.promise.Set(job.run(), nil)
	}
}

// submit enqueues a publish job, failing when the worker is shut down or the
// queue is full. The caller resolves the job's promise on failure.
func (w *worker) submit(job publishJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errWorkerClosed
	}
	select {
	case w.jobs <- job:
		return nil
	default:
		return errQueueFull
	}
}

// close stops intake. Already queued jobs still drain.
func (w *worker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.jobs)
}

// await blocks until the drain goroutine finishes, the timeout elapses, or
// ctx is canceled. On timeout the worker keeps draining detached; an
// in-flight batch may be abandoned with the process.
func (w *worker) await(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		log.Error().Str("cache", w.name).Dur("timeout", timeout).Msg("Publish worker did not drain in time")
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
