package publish

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/maxpert/logflume/cfg"
)

const (
	defaultKafkaBatchSize  = 100
	defaultKafkaBatchBytes = 1 << 20 // 1MB
)

// KafkaSink ships records to Kafka. Records are partitioned by key, and
// the cache keys every record with its stream name, so one stream stays
// ordered inside one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a Kafka sink from the sink configuration. Writes are
// synchronous: a failed write fails its whole batch, which the cache logs
// and discards without retry.
func NewKafkaSink(sc cfg.SinkConfiguration) (*KafkaSink, error) {
	if len(sc.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	acks, err := parseKafkaAcks(sc.KafkaAcks)
	if err != nil {
		return nil, err
	}

	batchSize := sc.KafkaBatchSize
	if batchSize == 0 {
		batchSize = defaultKafkaBatchSize
	}
	batchBytes := sc.KafkaBatchBytes
	if batchBytes == 0 {
		batchBytes = defaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(sc.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchBytes:             batchBytes,
		RequiredAcks:           acks,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer}, nil
}

// parseKafkaAcks maps the configured acks mode to the client constant.
// Empty defaults to "all".
func parseKafkaAcks(acks string) (kafka.RequiredAcks, error) {
	switch acks {
	case "", "all":
		return kafka.RequireAll, nil
	case "one":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	}
	return 0, fmt.Errorf("unknown kafka acks mode: %q", acks)
}

// Publish sends one record to topic, partitioned by key.
//
// Uses context.Background() because batch outcomes are owned one level up:
// the publish worker fails and discards the whole batch on error.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	return k.writer.WriteMessages(context.Background(), msg)
}

// Close releases the underlying writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
