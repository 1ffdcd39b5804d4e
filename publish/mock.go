package publish

import "sync"

// MockSink captures published records in memory, grouped by stream key, so
// tests can assert how whole batches land without a real broker. The cache
// keys every record of one batch with its stream name, which makes the
// per-stream groups line up with StartPublish..EndPublish boundaries.
// A zero MockSink is ready to use.
type MockSink struct {
	mu       sync.Mutex
	byStream map[string][]SinkRecord
	streams  []string // first-publish order

	PublishErr error
	closed     bool
}

// SinkRecord is one captured message.
type SinkRecord struct {
	Topic string
	Value []byte
}

func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}

	if m.byStream == nil {
		m.byStream = make(map[string][]SinkRecord)
	}
	if _, seen := m.byStream[key]; !seen {
		m.streams = append(m.streams, key)
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	m.byStream[key] = append(m.byStream[key], SinkRecord{Topic: topic, Value: buf})
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the captured messages of one stream in publish order.
func (m *MockSink) Records(stream string) []SinkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SinkRecord(nil), m.byStream[stream]...)
}

// Streams returns the stream keys in first-publish order.
func (m *MockSink) Streams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.streams...)
}

// Len returns the total number of captured messages across all streams.
func (m *MockSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, records := range m.byStream {
		n += len(records)
	}
	return n
}

// Closed reports whether Close has been called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Reset clears all captured messages.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byStream = nil
	m.streams = nil
}
