package cache

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds the wait for one cache's publish worker to drain
// in-flight and queued batches.
const shutdownTimeout = 10 * time.Second

// instance is the non-generic registry view of a cache.
type instance interface {
	Flusher
	Buffered() int
	detachWorker() *worker
	shutdownMonitor() error
}

// Registry tracks live event caches for coordinated process shutdown.
// Injectable so tests and embedders can run isolated registries;
// DefaultRegistry serves callers that want process-wide behavior.
type Registry struct {
	mu        sync.Mutex
	instances []instance // drain order = registration order

	byName *xsync.MapOf[string, instance] // lookup for admin/stats surfaces

	timeout time.Duration
}

// DefaultRegistry is the process-wide registry used when a cache is created
// without an explicit one.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  xsync.NewMapOf[string, instance](),
		timeout: shutdownTimeout,
	}
}

func (r *Registry) register(inst instance) {
	r.mu.Lock()
	r.instances = append(r.instances, inst)
	r.mu.Unlock()

	// Most recently registered cache wins the name slot.
	r.byName.Store(inst.Name(), inst)
}

func (r *Registry) pop() instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.instances) == 0 {
		return nil
	}
	inst := r.instances[0]
	r.instances = r.instances[1:]
	return inst
}

// Lookup returns the most recently registered live cache with the given name.
func (r *Registry) Lookup(name string) (Flusher, bool) {
	inst, ok := r.byName.Load(name)
	if !ok {
		return nil, false
	}
	return inst, true
}

// CacheStat describes one live cache for stats surfaces.
type CacheStat struct {
	Name     string `json:"name"`
	Buffered int    `json:"buffered"`
}

// Stats snapshots every live cache.
func (r *Registry) Stats() []CacheStat {
	r.mu.Lock()
	instances := make([]instance, len(r.instances))
	copy(instances, r.instances)
	r.mu.Unlock()

	stats := make([]CacheStat, 0, len(instances))
	for _, inst := range instances {
		stats = append(stats, CacheStat{Name: inst.Name(), Buffered: inst.Buffered()})
	}
	return stats
}

// Shutdown drains the registry one cache at a time: detach the worker (racing
// flush submissions fail gracefully), wait up to the per-cache timeout for
// queued batches to publish, then shut down the monitor. One cache's failure
// never prevents draining the rest. Returns true only if every cache drained
// within its bound and tore down cleanly; ctx cancellation (an interrupted
// wait) returns false with the remaining caches still registered.
func (r *Registry) Shutdown(ctx context.Context) bool {
	ok := true
	for inst := r.pop(); inst != nil; inst = r.pop() {
		// Drop the name mapping only if it still points at this instance.
		if cur, found := r.byName.Load(inst.Name()); found && cur == inst {
			r.byName.Delete(inst.Name())
		}

		if !r.shutdownInstance(ctx, inst) {
			ok = false
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return ok
}

func (r *Registry) shutdownInstance(ctx context.Context, inst instance) bool {
	ok := true

	if w := inst.detachWorker(); w != nil {
		log.Info().Str("cache", inst.Name()).Msg("Shutting down event cache")
		w.close()
		if err := w.await(ctx, r.timeout); err != nil {
			ok = false
		}
	}

	if err := inst.shutdownMonitor(); err != nil {
		log.Error().Err(err).Str("cache", inst.Name()).Msg("Monitor shutdown failed")
		ok = false
	}

	if ok {
		log.Info().Str("cache", inst.Name()).Msg("Event cache stopped")
	}
	return ok
}

// ShutdownAll drains every cache registered with the default registry.
// Call once at process exit.
func ShutdownAll(ctx context.Context) bool {
	return DefaultRegistry.Shutdown(ctx)
}
