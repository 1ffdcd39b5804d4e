// Package publish provides Publisher implementations that ship drained
// batches to external sinks (NATS JetStream, Kafka, console), one message
// per buffered event.
package publish

import (
	"fmt"

	"github.com/maxpert/logflume/cache"
)

// Sink is a destination for published records.
type Sink interface {
	// Publish sends one record to the sink.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// Option configures a SinkPublisher.
type Option func(*options)

type options struct {
	topicPrefix string
	filter      *StreamFilter
}

// WithTopicPrefix prepends a prefix to the per-stream topic name.
func WithTopicPrefix(prefix string) Option {
	return func(o *options) { o.topicPrefix = prefix }
}

// WithStreamFilter drops whole batches of excluded streams without any sink
// calls.
func WithStreamFilter(filter *StreamFilter) Option {
	return func(o *options) { o.filter = filter }
}

// SinkPublisher adapts a Sink to the cache's batch publish contract. Each
// batch maps to one topic derived from the cache name; the cache name doubles
// as the message key so a stream's records stay ordered at partitioned sinks.
//
// Not safe for concurrent batches unless the underlying Sink is; the cache's
// single publish worker provides the per-cache serialization.
type SinkPublisher[T any] struct {
	sink   Sink
	codec  cache.Codec[T]
	prefix string
	filter *StreamFilter
}

// NewSinkPublisher creates a publisher shipping each record through sink,
// encoded by codec.
func NewSinkPublisher[T any](sink Sink, codec cache.Codec[T], opts ...Option) (*SinkPublisher[T], error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &SinkPublisher[T]{
		sink:   sink,
		codec:  codec,
		prefix: o.topicPrefix,
		filter: o.filter,
	}, nil
}

// batch is the per-publish context.
type batch struct {
	stream string
	topic  string
	skip   bool
}

func (p *SinkPublisher[T]) StartPublish(name string) (cache.PublishContext, error) {
	b := &batch{stream: name, topic: p.buildTopic(name)}
	if p.filter != nil && !p.filter.Match(name) {
		b.skip = true
	}
	return b, nil
}

func (p *SinkPublisher[T]) Publish(ctx cache.PublishContext, index int, event T) error {
	b, ok := ctx.(*batch)
	if !ok {
		return fmt.Errorf("unexpected publish context type %T", ctx)
	}
	if b.skip {
		return nil
	}

	value, err := p.codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", index, err)
	}
	if err := p.sink.Publish(b.topic, b.stream, value); err != nil {
		return &cache.PublishError{Stream: b.stream, Index: index, Err: err}
	}
	return nil
}

func (p *SinkPublisher[T]) EndPublish(ctx cache.PublishContext) error {
	if _, ok := ctx.(*batch); !ok {
		return fmt.Errorf("unexpected publish context type %T", ctx)
	}
	return nil
}

// Close releases the underlying sink.
func (p *SinkPublisher[T]) Close() error {
	return p.sink.Close()
}

func (p *SinkPublisher[T]) buildTopic(name string) string {
	if p.prefix == "" {
		return name
	}
	return fmt.Sprintf("%s.%s", p.prefix, name)
}
