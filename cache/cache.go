// Package cache implements the buffering core of logflume: it accumulates
// events in a swappable record store, keeps memory bounded by spilling to
// scratch storage, and hands completed batches to a per-cache publish worker
// without blocking producers.
//
// Delivery is at-most-once per batch and there is no persistence across
// process restarts: a batch lost at crash time is an accepted limitation.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/logflume/store"
	"github.com/maxpert/logflume/telemetry"
)

// DefaultName is used when no cache name is supplied. It also seeds scratch
// storage naming.
const DefaultName = "logflume"

// Config configures an event cache.
type Config[T any] struct {
	Name      string        // Cache/stream name (default: DefaultName)
	Monitor   Monitor[T]    // Flush trigger policy
	Publisher Publisher[T]  // Batch destination
	Codec     Codec[T]      // Record encoding
	NewStore  store.Factory // Allocates one store per buffer generation
	Registry  *Registry     // nil = DefaultRegistry
	Verbose   bool
}

// Cache buffers events for one named stream.
type Cache[T any] struct {
	name      string
	monitor   Monitor[T]
	publisher Publisher[T]
	codec     Codec[T]
	newStore  store.Factory
	verbose   bool

	// mu is the swap lock. It guards only active, count and store
	// open/close bookkeeping, never publish I/O.
	mu     sync.Mutex
	active store.Store
	count  int

	// worker is present while the cache is active and atomically cleared
	// during registry shutdown.
	worker atomic.Pointer[worker]
}

// New creates an event cache, allocates its first buffer generation, starts
// its publish worker and registers it for process shutdown. Fails if the
// initial storage cannot be allocated; nothing is registered in that case.
func New[T any](config Config[T]) (*Cache[T], error) {
	if config.Monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if config.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if config.NewStore == nil {
		return nil, fmt.Errorf("store factory is required")
	}
	if config.Name == "" {
		config.Name = DefaultName
	}

	registry := config.Registry
	if registry == nil {
		registry = DefaultRegistry
	}

	c := &Cache[T]{
		name:      config.Name,
		monitor:   config.Monitor,
		publisher: config.Publisher,
		codec:     config.Codec,
		newStore:  config.NewStore,
		verbose:   config.Verbose,
	}

	active, err := c.newStore(c.name)
	if err != nil {
		return nil, err
	}
	c.active = active

	c.worker.Store(newWorker(c.name))
	registry.register(c)

	if c.verbose {
		log.Debug().Str("cache", c.name).Msg("Event cache created")
	}
	return c, nil
}

// Name returns the cache name.
func (c *Cache[T]) Name() string { return c.name }

// Buffered returns the number of events in the active generation.
func (c *Cache[T]) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Add appends one event to the active buffer generation and notifies the
// monitor. Storage and serialization failures surface here synchronously;
// the caller decides whether to drop or retry the event. The monitor
// callback runs outside the swap lock and may re-enter FlushAndPublish on
// this goroutine.
func (c *Cache[T]) Add(event T) error {
	data, err := c.codec.Marshal(event)
	if err != nil {
		return &SerializationError{Err: err}
	}

	c.mu.Lock()
	err = c.appendLocked(data)
	buffered := c.count
	c.mu.Unlock()
	if err != nil {
		return err
	}

	telemetry.EventsBufferedTotal.With(c.name).Inc()
	telemetry.BufferedEvents.With(c.name).Set(float64(buffered))

	c.monitor.EventAdded(event, c)
	return nil
}

func (c *Cache[T]) appendLocked(data []byte) error {
	if c.active == nil {
		// A previous swap failed to allocate the next generation.
		active, err := c.newStore(c.name)
		if err != nil {
			return err
		}
		c.active = active
	}
	if err := c.active.Append(data); err != nil {
		return err
	}
	c.count++
	return nil
}

// FlushAndPublish atomically detaches the buffered events as one batch and
// publishes it. Returns nil when nothing is buffered (no Publisher calls).
//
// With useCurrentThread the publish runs inline and the returned future is
// already resolved. Otherwise the batch queues behind the cache's single
// publish worker: batches publish strictly in flush order, and the future
// resolves true iff the full StartPublish..EndPublish sequence succeeded.
// Mixing synchronous and asynchronous flushes forfeits the ordering
// guarantee. After shutdown the async path resolves false instead of
// panicking.
func (c *Cache[T]) FlushAndPublish(useCurrentThread bool) *future.Future[bool] {
	snap, ok := c.swap()
	if !ok {
		return nil
	}

	promise := future.NewPromise[bool]()
	if useCurrentThread {
		promise.Set(c.publishSnapshot(snap), nil)
		return promise.Future()
	}

	w := c.worker.Load()
	if w == nil {
		log.Warn().Str("cache", c.name).Msg("Publish worker unavailable, batch dropped")
		c.dropBatch(snap)
		promise.Set(false, nil)
		return promise.Future()
	}

	job := publishJob{
		run:     func() bool { return c.publishSnapshot(snap) },
		promise: promise,
	}
	if err := w.submit(job); err != nil {
		log.Warn().Err(err).Str("cache", c.name).Msg("Publish submission rejected, batch dropped")
		c.dropBatch(snap)
		promise.Set(false, nil)
	}
	return promise.Future()
}

// snapshot is a detached (store, count) pair produced at swap time. The
// publish task owns it from creation until the storage is deleted.
type snapshot struct {
	store store.Store
	count int
}

// swap closes the active store, captures it with its count, opens a fresh
// generation and resets the count, all under the swap lock. Every Add
// observes exactly one of the pre-swap or post-swap store.
func (c *Cache[T]) swap() (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return snapshot{}, false
	}

	if err := c.active.Close(); err != nil {
		// Hand the generation off anyway; the publish read will surface
		// whatever is unrecoverable.
		log.Warn().Err(err).Str("cache", c.name).Msg("Failed to seal buffer generation")
	}
	snap := snapshot{store: c.active, count: c.count}

	c.active = nil
	c.count = 0
	telemetry.BufferedEvents.With(c.name).Set(0)

	fresh, err := c.newStore(c.name)
	if err != nil {
		// Adds fail until a later Add manages to reallocate.
		log.Error().Err(err).Str("cache", c.name).Msg("Failed to allocate next buffer generation")
		return snap, true
	}
	c.active = fresh
	return snap, true
}

// publishSnapshot runs one batch through the Publisher: StartPublish,
// Publish per record in write order, EndPublish. The snapshot's storage is
// deleted exactly once no matter the outcome; deletion errors are swallowed.
// Any failure is logged and yields false, never a retry.
func (c *Cache[T]) publishSnapshot(snap snapshot) bool {
	start := time.Now()
	defer c.discard(snap)

	ok := c.runPublish(snap)

	result := "success"
	if !ok {
		result = "failed"
	}
	telemetry.BatchesPublishedTotal.With(c.name, result).Inc()
	telemetry.PublishDurationSeconds.With(c.name).Observe(time.Since(start).Seconds())

	if c.verbose && ok {
		log.Debug().
			Str("cache", c.name).
			Int("events", snap.count).
			Dur("took", time.Since(start)).
			Msg("Published batch")
	}
	return ok
}

// runPublish contains publisher panics: a panicking Publisher fails its
// batch instead of killing the publish worker (and with it every queued
// promise) or the flushing caller.
func (c *Cache[T]) runPublish(snap snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("cache", c.name).Interface("panic", r).Msg("Publisher panicked, batch failed")
			ok = false
		}
	}()
	return c.publishRecords(snap)
}

func (c *Cache[T]) publishRecords(snap snapshot) bool {
	pctx, err := c.publisher.StartPublish(c.name)
	if err != nil {
		log.Error().Err(&PublishError{Stream: c.name, Index: -1, Err: err}).Msg("Failed to start publish batch")
		return false
	}

	reader, err := snap.store.Reader()
	if err != nil {
		log.Error().Err(err).Str("cache", c.name).Msg("Failed to open buffer generation for publishing")
		return false
	}
	defer reader.Close()

	for i := 0; i < snap.count; i++ {
		data, err := reader.Next()
		if err != nil {
			log.Error().Err(err).Str("cache", c.name).Int("record", i).Msg("Failed to read buffered record")
			return false
		}
		event, err := c.codec.Unmarshal(data)
		if err != nil {
			log.Error().Err(&SerializationError{Err: err}).Str("cache", c.name).Int("record", i).Msg("Failed to decode buffered record")
			return false
		}
		if err := c.publisher.Publish(pctx, i, event); err != nil {
			log.Error().Err(&PublishError{Stream: c.name, Index: i, Err: err}).Msg("Failed to publish record")
			return false
		}
	}

	if err := c.publisher.EndPublish(pctx); err != nil {
		log.Error().Err(&PublishError{Stream: c.name, Index: -1, Err: err}).Msg("Failed to end publish batch")
		return false
	}
	return true
}

// dropBatch discards a batch that never reached the Publisher.
func (c *Cache[T]) dropBatch(snap snapshot) {
	telemetry.PublishQueueRejectionsTotal.With(c.name).Inc()
	telemetry.BatchesPublishedTotal.With(c.name, "dropped").Inc()
	c.discard(snap)
}

func (c *Cache[T]) discard(snap snapshot) {
	if err := snap.store.Delete(); err != nil {
		log.Debug().Err(err).Str("cache", c.name).Msg("Failed to remove drained buffer storage")
	}
}

// detachWorker atomically takes the worker so racing flush submissions see
// an unavailable worker and fail gracefully.
func (c *Cache[T]) detachWorker() *worker {
	return c.worker.Swap(nil)
}

func (c *Cache[T]) shutdownMonitor() error {
	return c.monitor.Shutdown()
}
