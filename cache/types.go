package cache

import "github.com/jizhuozhi/go-future"

// PublishContext is created by a Publisher per batch and threaded through
// every call of that batch. Opaque to the cache.
type PublishContext any

// Flusher is the cache handle passed to Monitor callbacks. Monitors trigger
// flushes through it without depending on the cache's event type.
type Flusher interface {
	// Name returns the cache name.
	Name() string
	// FlushAndPublish drains the buffered events into one batch. Returns nil
	// when nothing is buffered. See Cache.FlushAndPublish.
	FlushAndPublish(useCurrentThread bool) *future.Future[bool]
}

// Monitor decides when a cache should flush. EventAdded runs on the
// producer's goroutine after every successful Add, outside the cache's swap
// lock, and may call back into FlushAndPublish on that same goroutine.
// Implementations must be safe for concurrent producers.
type Monitor[T any] interface {
	EventAdded(event T, cache Flusher)
	// Shutdown releases monitor resources (timers etc). Called once per
	// cache during registry shutdown, after its worker has stopped.
	Shutdown() error
}

// Publisher consumes one drained batch sequentially. Implementations are not
// required to be safe for concurrent batches: the single worker per cache is
// what serializes calls. Distinct caches sharing one Publisher are still
// serialized only per cache; share a Publisher across caches only if it
// documents thread safety.
type Publisher[T any] interface {
	StartPublish(name string) (PublishContext, error)
	Publish(ctx PublishContext, index int, event T) error
	EndPublish(ctx PublishContext) error
}

// Codec encodes one event per record and back. The record format is opaque
// to the cache; it only needs exact round-trips.
type Codec[T any] interface {
	Marshal(event T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}
