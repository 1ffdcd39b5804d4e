package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/logflume/cache"
	"github.com/rs/zerolog/log"
)

// Interval triggers an asynchronous flush on a fixed period. The ticker
// starts lazily on the first event so an idle cache costs nothing, and stops
// at Shutdown.
type Interval[T any] struct {
	period time.Duration

	started  atomic.Bool
	target   atomic.Pointer[flushTarget]
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

type flushTarget struct {
	cache cache.Flusher
}

// NewInterval creates a time-based monitor flushing every period.
func NewInterval[T any](period time.Duration) *Interval[T] {
	if period <= 0 {
		period = time.Minute
	}
	return &Interval[T]{
		period: period,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (m *Interval[T]) EventAdded(_ T, c cache.Flusher) {
	if m.started.Load() {
		return
	}
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.target.Store(&flushTarget{cache: c})
	go m.tickLoop()
}

func (m *Interval[T]) tickLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if t := m.target.Load(); t != nil {
				t.cache.FlushAndPublish(false)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Shutdown stops the ticker goroutine. Safe to call more than once.
func (m *Interval[T]) Shutdown() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if m.started.Load() {
		select {
		case <-m.doneCh:
		case <-time.After(time.Second):
			log.Warn().Msg("Interval monitor ticker did not stop in time")
		}
	}
	return nil
}
