package monitor

import "github.com/maxpert/logflume/cache"

// Noop never triggers a flush; callers drain the cache manually.
type Noop[T any] struct{}

func (Noop[T]) EventAdded(_ T, _ cache.Flusher) {}

func (Noop[T]) Shutdown() error { return nil }
