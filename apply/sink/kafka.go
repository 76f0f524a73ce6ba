package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
)

func init() {
	apply.RegisterApplier("kafka", func(config cfg.ApplierConfiguration) (apply.Applier, error) {
		kafkaConfig := DefaultKafkaConfig(config.Brokers)
		kafkaConfig.TopicPrefix = config.TopicPrefix
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink writes each event to the topic of its table, keyed by the
// event's ordering key so one key always lands on one Kafka partition.
type KafkaSink struct {
	writer      *kafka.Writer
	topicPrefix string
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers      []string
	TopicPrefix  string
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration // flush delay for a partial batch
	RequiredAcks kafka.RequiredAcks
	Compression  kafka.Compression
	AutoCreate   bool
}

// DefaultKafkaConfig returns the configuration used by the "kafka" applier.
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		BatchSize:    DefaultKafkaBatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		BatchTimeout: DefaultKafkaBatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Zstd,
		AutoCreate:   true,
	}
}

// NewKafkaSink creates a KafkaSink. No connection is made until the first Apply.
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes <= 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}

	// Writes are synchronous: a channel applies one event at a time and
	// needs the delivery result before moving on, so BatchTimeout bounds
	// the latency of every Apply.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		BatchTimeout:           config.BatchTimeout,
		RequiredAcks:           config.RequiredAcks,
		Compression:            config.Compression,
		AllowAutoTopicCreation: config.AutoCreate,
	}

	return &KafkaSink{writer: writer, topicPrefix: config.TopicPrefix}, nil
}

// Apply writes the event as a msgpack record.
func (k *KafkaSink) Apply(ctx context.Context, ev *event.Event) error {
	msg, err := kafkaMessage(k.topicPrefix, ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}
	return nil
}

// kafkaMessage keys the message by the ordering key. Source and seqno
// travel as headers so consumers can deduplicate without decoding the value.
func kafkaMessage(prefix string, ev *event.Event) (kafka.Message, error) {
	value, err := ev.Marshal()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", ev, err)
	}
	return kafka.Message{
		Topic: buildTopic(prefix, ev),
		Key:   []byte(ev.Key()),
		Value: value,
		Time:  ev.Timestamp(),
		Headers: []kafka.Header{
			{Key: "source", Value: []byte(ev.Source())},
			{Key: "seqno", Value: []byte(strconv.FormatUint(ev.Seqno(), 10))},
		},
	}, nil
}

// Close flushes pending writes and closes broker connections.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
