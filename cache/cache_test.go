package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/logflume/store"
)

// Test collaborators

// rawCodec stores string events as raw bytes.
type rawCodec struct{}

func (rawCodec) Marshal(event string) ([]byte, error) { return []byte(event), nil }
func (rawCodec) Unmarshal(data []byte) (string, error) { return string(data), nil }

type failingCodec struct{}

func (failingCodec) Marshal(string) ([]byte, error)   { return nil, fmt.Errorf("encode boom") }
func (failingCodec) Unmarshal([]byte) (string, error) { return "", fmt.Errorf("decode boom") }

// noopMonitor never triggers a flush.
type noopMonitor struct {
	shutdownErr   error
	shutdownCalls int
	mu            sync.Mutex
}

func (m *noopMonitor) EventAdded(string, Flusher) {}

func (m *noopMonitor) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownCalls++
	return m.shutdownErr
}

// funcMonitor delegates EventAdded to a callback.
type funcMonitor struct {
	onEvent func(event string, c Flusher)
}

func (m *funcMonitor) EventAdded(event string, c Flusher) { m.onEvent(event, c) }
func (m *funcMonitor) Shutdown() error                    { return nil }

type batchCtx struct {
	name string
}

// recordingPublisher captures the exact call sequence and asserts the
// serialization guarantee: no two batches may overlap.
type recordingPublisher struct {
	mu      sync.Mutex
	calls   []string
	batches [][]string
	active  bool
	overlap bool

	startErr   error
	publishErr error
	endErr     error

	// blockEnd, when set, makes EndPublish wait until released.
	blockEnd chan struct{}
}

func (p *recordingPublisher) StartPublish(name string) (PublishContext, error) {
	p.mu.Lock()
	if p.active {
		p.overlap = true
	}
	p.active = true
	p.calls = append(p.calls, "start:"+name)
	p.batches = append(p.batches, []string{})
	err := p.startErr
	if err != nil {
		p.active = false
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &batchCtx{name: name}, nil
}

func (p *recordingPublisher) Publish(ctx PublishContext, index int, event string) error {
	b := ctx.(*batchCtx)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		p.active = false
		return p.publishErr
	}
	p.calls = append(p.calls, fmt.Sprintf("publish:%d:%s", index, event))
	p.batches[len(p.batches)-1] = append(p.batches[len(p.batches)-1], event)
	_ = b
	return nil
}

func (p *recordingPublisher) EndPublish(ctx PublishContext) error {
	if p.blockEnd != nil {
		<-p.blockEnd
	}
	b := ctx.(*batchCtx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	if p.endErr != nil {
		return p.endErr
	}
	p.calls = append(p.calls, "end:"+b.name)
	return nil
}

func (p *recordingPublisher) callSequence() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := make([]string, len(p.calls))
	copy(seq, p.calls)
	return seq
}

func (p *recordingPublisher) publishedBatches() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.batches))
	for i, b := range p.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

func newTestCache(t *testing.T, name string, mon Monitor[string], pub Publisher[string]) (*Cache[string], *Registry) {
	t.Helper()
	registry := NewRegistry()
	c, err := New(Config[string]{
		Name:      name,
		Monitor:   mon,
		Publisher: pub,
		Codec:     rawCodec{},
		NewStore:  store.InMemory(),
		Registry:  registry,
	})
	require.NoError(t, err)
	return c, registry
}

func TestNew_Validation(t *testing.T) {
	valid := Config[string]{
		Monitor:   &noopMonitor{},
		Publisher: &recordingPublisher{},
		Codec:     rawCodec{},
		NewStore:  store.InMemory(),
		Registry:  NewRegistry(),
	}

	tests := []struct {
		name   string
		mutate func(*Config[string])
	}{
		{"missing monitor", func(c *Config[string]) { c.Monitor = nil }},
		{"missing publisher", func(c *Config[string]) { c.Publisher = nil }},
		{"missing codec", func(c *Config[string]) { c.Codec = nil }},
		{"missing store factory", func(c *Config[string]) { c.NewStore = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := valid
			tc.mutate(&config)
			_, err := New(config)
			assert.Error(t, err)
		})
	}
}

func TestNew_DefaultName(t *testing.T) {
	c, _ := newTestCache(t, "", &noopMonitor{}, &recordingPublisher{})
	assert.Equal(t, DefaultName, c.Name())
}

func TestNew_StorageFailureRegistersNothing(t *testing.T) {
	registry := NewRegistry()
	_, err := New(Config[string]{
		Monitor:   &noopMonitor{},
		Publisher: &recordingPublisher{},
		Codec:     rawCodec{},
		NewStore: func(string) (store.Store, error) {
			return nil, &store.StorageError{Op: "create", Err: fmt.Errorf("disk full")}
		},
		Registry: registry,
	})
	require.Error(t, err)
	var serr *store.StorageError
	assert.ErrorAs(t, err, &serr)
	assert.Empty(t, registry.Stats())
}

func TestAdd_SequentialCountAndOrder(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newTestCache(t, "seq", &noopMonitor{}, pub)

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Add(fmt.Sprintf("e%d", i)))
	}
	assert.Equal(t, 25, c.Buffered())

	fut := c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, ok)

	batches := pub.publishedBatches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 25)
	for i, event := range batches[0] {
		assert.Equal(t, fmt.Sprintf("e%d", i), event)
	}
}

func TestAdd_SerializationErrorSurfacesToCaller(t *testing.T) {
	registry := NewRegistry()
	c, err := New(Config[string]{
		Name:      "badcodec",
		Monitor:   &noopMonitor{},
		Publisher: &recordingPublisher{},
		Codec:     failingCodec{},
		NewStore:  store.InMemory(),
		Registry:  registry,
	})
	require.NoError(t, err)

	err = c.Add("event")
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, c.Buffered())
}

func TestFlushAndPublish_EmptyCacheReturnsNil(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newTestCache(t, "empty", &noopMonitor{}, pub)

	assert.Nil(t, c.FlushAndPublish(true))
	assert.Nil(t, c.FlushAndPublish(false))
	assert.Empty(t, pub.callSequence())
}

func TestFlushAndPublish_SyncScenario(t *testing.T) {
	pub := &recordingPublisher{}
	registry := NewRegistry()
	scratch := t.TempDir()

	c, err := New(Config[string]{
		Name:      "orders",
		Monitor:   &noopMonitor{},
		Publisher: pub,
		Codec:     rawCodec{},
		NewStore:  store.TempFile(scratch),
		Registry:  registry,
	})
	require.NoError(t, err)

	require.NoError(t, c.Add("e1"))
	require.NoError(t, c.Add("e2"))
	require.NoError(t, c.Add("e3"))

	fut := c.FlushAndPublish(true)
	require.NotNil(t, fut)

	// Synchronous path: the publisher has already been driven when
	// FlushAndPublish returns.
	assert.Equal(t, []string{
		"start:orders",
		"publish:0:e1",
		"publish:1:e2",
		"publish:2:e3",
		"end:orders",
	}, pub.callSequence())

	ok, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, c.Buffered())

	// Drained scratch storage is removed; only the fresh generation remains.
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, countBufferFiles(t, scratch))
}

func countBufferFiles(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.buf"))
	require.NoError(t, err)
	return len(matches)
}

func TestFlushAndPublish_AsyncResolvesTrue(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newTestCache(t, "async", &noopMonitor{}, pub)

	require.NoError(t, c.Add("a"))
	require.NoError(t, c.Add("b"))

	fut := c.FlushAndPublish(false)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, ok)

	batches := pub.publishedBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"a", "b"}, batches[0])
}

func TestFlushAndPublish_AsyncBatchOrdering(t *testing.T) {
	release := make(chan struct{})
	pub := &recordingPublisher{blockEnd: release}
	c, _ := newTestCache(t, "ordered", &noopMonitor{}, pub)

	require.NoError(t, c.Add("b1e1"))
	fut1 := c.FlushAndPublish(false)
	require.NotNil(t, fut1)

	require.NoError(t, c.Add("b2e1"))
	fut2 := c.FlushAndPublish(false)
	require.NotNil(t, fut2)

	// Batch 1 is still blocked inside EndPublish; batch 2 must not have
	// started.
	time.Sleep(50 * time.Millisecond)
	close(release)

	ok1, err := fut1.Get()
	require.NoError(t, err)
	ok2, err := fut2.Get()
	require.NoError(t, err)
	assert.True(t, ok1)
	assert.True(t, ok2)

	assert.False(t, pub.overlap, "batch 2 started before batch 1 finished")
	assert.Equal(t, [][]string{{"b1e1"}, {"b2e1"}}, pub.publishedBatches())
}

func TestFlushAndPublish_PublisherFailureResolvesFalse(t *testing.T) {
	pub := &recordingPublisher{publishErr: fmt.Errorf("sink down")}
	c, _ := newTestCache(t, "failing", &noopMonitor{}, pub)

	require.NoError(t, c.Add("x"))
	fut := c.FlushAndPublish(false)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	// Failed batch is discarded, not retried: cache keeps accepting.
	assert.Equal(t, 0, c.Buffered())
	require.NoError(t, c.Add("y"))
	assert.Equal(t, 1, c.Buffered())
}

func TestFlushAndPublish_EndPublishFailureResolvesFalse(t *testing.T) {
	pub := &recordingPublisher{endErr: fmt.Errorf("commit refused")}
	c, _ := newTestCache(t, "endfail", &noopMonitor{}, pub)

	require.NoError(t, c.Add("x"))
	fut := c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, _ := fut.Get()
	assert.False(t, ok)
}

func TestFlushAndPublish_PostShutdownResolvesFalse(t *testing.T) {
	pub := &recordingPublisher{}
	c, registry := newTestCache(t, "stopped", &noopMonitor{}, pub)

	require.True(t, registry.Shutdown(context.Background()))

	require.NoError(t, c.Add("late"))
	fut := c.FlushAndPublish(false)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pub.callSequence())
}

func TestAdd_MonitorReentrancy(t *testing.T) {
	pub := &recordingPublisher{}
	var c *Cache[string]

	// Flush synchronously from inside the monitor callback every 2 events.
	mon := &funcMonitor{}
	mon.onEvent = func(_ string, f Flusher) {
		if c.Buffered() >= 2 {
			f.FlushAndPublish(true)
		}
	}
	c, _ = newTestCache(t, "reentrant", mon, pub)

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Add(fmt.Sprintf("e%d", i)))
	}

	batches := pub.publishedBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"e0", "e1"}, batches[0])
	assert.Equal(t, []string{"e2", "e3"}, batches[1])
	assert.Equal(t, 0, c.Buffered())
}

func TestSwapAtomicity_ConcurrentAdds(t *testing.T) {
	pub := &recordingPublisher{}
	c, _ := newTestCache(t, "atomic", &noopMonitor{}, pub)

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, c.Add(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}

	// Swap repeatedly while producers run.
	var futures []*future.Future[bool]
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if fut := c.FlushAndPublish(false); fut != nil {
				futures = append(futures, fut)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	wg.Wait()
	<-done

	// Final drain picks up whatever the concurrent swaps missed.
	if fut := c.FlushAndPublish(true); fut != nil {
		futures = append(futures, fut)
	}
	for _, fut := range futures {
		ok, err := fut.Get()
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Every event landed in exactly one generation.
	seen := make(map[string]int)
	for _, b := range pub.publishedBatches() {
		for _, event := range b {
			seen[event]++
		}
	}
	assert.Len(t, seen, producers*perProducer)
	for event, n := range seen {
		assert.Equalf(t, 1, n, "event %s published %d times", event, n)
	}
	assert.False(t, pub.overlap)
}

func TestSwap_NextGenerationAllocationFailure(t *testing.T) {
	pub := &recordingPublisher{}
	mem := store.InMemory()

	var failNext bool
	factory := func(name string) (store.Store, error) {
		if failNext {
			return nil, &store.StorageError{Op: "create", Err: fmt.Errorf("no space left")}
		}
		return mem(name)
	}

	c, err := New(Config[string]{
		Name:      "recovering",
		Monitor:   &noopMonitor{},
		Publisher: pub,
		Codec:     rawCodec{},
		NewStore:  factory,
		Registry:  NewRegistry(),
	})
	require.NoError(t, err)

	require.NoError(t, c.Add("e1"))

	// The drained batch still publishes even though the swap cannot
	// allocate the next generation.
	failNext = true
	fut := c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]string{{"e1"}}, pub.publishedBatches())

	// No active store and nothing buffered: flush is a no-op, not a panic.
	assert.Nil(t, c.FlushAndPublish(true))

	// Adds surface the storage error while allocation keeps failing.
	err = c.Add("e2")
	var serr *store.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 0, c.Buffered())

	// The next Add reallocates once storage recovers.
	failNext = false
	require.NoError(t, c.Add("e3"))
	assert.Equal(t, 1, c.Buffered())

	fut = c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, err = fut.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]string{{"e1"}, {"e3"}}, pub.publishedBatches())
}

// panicPublisher blows up on every record.
type panicPublisher struct {
	starts atomic.Int64
}

func (p *panicPublisher) StartPublish(name string) (PublishContext, error) {
	p.starts.Add(1)
	return name, nil
}

func (p *panicPublisher) Publish(PublishContext, int, string) error {
	panic("sink exploded")
}

func (p *panicPublisher) EndPublish(PublishContext) error { return nil }

func TestFlushAndPublish_PublisherPanicFailsBatch(t *testing.T) {
	pub := &panicPublisher{}
	c, _ := newTestCache(t, "panicky", &noopMonitor{}, pub)

	require.NoError(t, c.Add("x"))
	fut := c.FlushAndPublish(false)
	require.NotNil(t, fut)
	ok, err := fut.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	// The worker survives the panic and takes the next batch.
	require.NoError(t, c.Add("y"))
	fut = c.FlushAndPublish(false)
	require.NotNil(t, fut)
	ok, err = fut.Get()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), pub.starts.Load())

	// The synchronous path contains the panic on the caller too.
	require.NoError(t, c.Add("z"))
	fut = c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, _ = fut.Get()
	assert.False(t, ok)
}

// decodeFailCodec marshals fine but cannot decode its own output.
type decodeFailCodec struct{}

func (decodeFailCodec) Marshal(event string) ([]byte, error) { return []byte(event), nil }
func (decodeFailCodec) Unmarshal([]byte) (string, error) {
	return "", fmt.Errorf("decode boom")
}

func TestFlushAndPublish_DecodeFailureResolvesFalse(t *testing.T) {
	pub := &recordingPublisher{}
	registry := NewRegistry()

	c, err := New(Config[string]{
		Name:      "undecodable",
		Monitor:   &noopMonitor{},
		Publisher: pub,
		Codec:     decodeFailCodec{},
		NewStore:  store.InMemory(),
		Registry:  registry,
	})
	require.NoError(t, err)

	require.NoError(t, c.Add("only"))
	fut := c.FlushAndPublish(true)
	require.NotNil(t, fut)
	ok, _ := fut.Get()
	assert.False(t, ok)

	// Batch opened but never delivered or committed.
	assert.Equal(t, []string{"start:undecodable"}, pub.callSequence())
}
