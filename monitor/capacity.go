// Package monitor provides flush trigger policies for event caches. A
// monitor observes every Add and decides when the cache should drain; the
// cache core never flushes on its own.
package monitor

import (
	"sync/atomic"

	"github.com/maxpert/logflume/cache"
)

// Capacity triggers an asynchronous flush every time the configured number
// of events has been added since the last trigger.
type Capacity[T any] struct {
	capacity int64
	count    atomic.Int64
}

// NewCapacity creates a capacity-based monitor. capacity must be >= 1.
func NewCapacity[T any](capacity int) *Capacity[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Capacity[T]{capacity: int64(capacity)}
}

func (m *Capacity[T]) EventAdded(_ T, c cache.Flusher) {
	if m.count.Add(1)%m.capacity == 0 {
		c.FlushAndPublish(false)
	}
}

func (m *Capacity[T]) Shutdown() error { return nil }
