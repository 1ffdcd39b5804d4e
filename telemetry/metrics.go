package telemetry

// PublishBuckets for sink round-trip latencies (network I/O per batch)
var PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Buffering and publishing metrics
var (
	// EventsBufferedTotal counts events accepted into a cache
	EventsBufferedTotal CounterVec = noopCounterVec{}

	// BufferedEvents tracks events currently buffered in the active generation
	BufferedEvents GaugeVec = noopGaugeVec{}

	// BatchesPublishedTotal counts completed publish batches by result (success, failed, dropped)
	BatchesPublishedTotal CounterVec = noopCounterVec{}

	// PublishDurationSeconds measures one batch's full publish round trip
	PublishDurationSeconds HistogramVec = noopHistogramVec{}

	// PublishQueueRejectionsTotal counts batches rejected by a full or stopped worker queue
	PublishQueueRejectionsTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists; InitializeTelemetry does that.
func InitMetrics() {
	EventsBufferedTotal = NewCounterVec(
		"events_buffered_total",
		"Events accepted into a cache",
		[]string{"cache"},
	)
	BufferedEvents = NewGaugeVec(
		"buffered_events",
		"Events currently buffered in the active generation",
		[]string{"cache"},
	)
	BatchesPublishedTotal = NewCounterVec(
		"batches_published_total",
		"Publish batches by result",
		[]string{"cache", "result"},
	)
	PublishDurationSeconds = NewHistogramVec(
		"publish_duration_seconds",
		"Full publish round trip per batch",
		[]string{"cache"},
		PublishBuckets,
	)
	PublishQueueRejectionsTotal = NewCounterVec(
		"publish_queue_rejections_total",
		"Batches rejected by a full or stopped worker queue",
		[]string{"cache"},
	)
}
