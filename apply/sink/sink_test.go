package sink

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/encoding"
	"github.com/maxpert/burrow/event"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface verification
var (
	_ apply.Applier = (*KafkaSink)(nil)
	_ apply.Applier = (*NatsSink)(nil)
	_ apply.Applier = (*LogSink)(nil)
	_ apply.Applier = (*MockSink)(nil)
)

func rowEvent(seqno uint64) *event.Event {
	rc := &binlog.RowChange{
		Schema:  "shop",
		Table:   "orders",
		Op:      binlog.OpInsert,
		Columns: []string{"id", "total"},
		After:   []any{int64(seqno), "9.99"},
	}
	return event.NewData("src-1", seqno, rc.QualifiedName(), time.Unix(1700000000, 0), rc)
}

func TestBuildTopic(t *testing.T) {
	assert.Equal(t, "burrow.shop.orders", buildTopic("burrow", rowEvent(1)))
	assert.Equal(t, "shop.orders", buildTopic("", rowEvent(1)))

	stmt := event.NewData("src-1", 2, "shop", time.Unix(0, 0), &binlog.Statement{Schema: "shop", SQL: "TRUNCATE t"})
	assert.Equal(t, "burrow.shop", buildTopic("burrow", stmt))

	bare := event.NewData("src-1", 3, "", time.Unix(0, 0), nil)
	assert.Equal(t, "burrow.src-1", buildTopic("burrow", bare))
}

func TestKafkaMessage(t *testing.T) {
	ev := rowEvent(9)
	msg, err := kafkaMessage("burrow", ev)
	require.NoError(t, err)

	assert.Equal(t, "burrow.shop.orders", msg.Topic)
	assert.Equal(t, []byte(ev.Key()), msg.Key)
	assert.Equal(t, ev.Timestamp(), msg.Time)
	assert.Equal(t, []kafka.Header{
		{Key: "source", Value: []byte(ev.Source())},
		{Key: "seqno", Value: []byte("9")},
	}, msg.Headers)

	var rec event.Record
	require.NoError(t, encoding.Unmarshal(msg.Value, &rec))
	assert.Equal(t, ev.Source(), rec.Source)
	assert.Equal(t, uint64(9), rec.Seqno)
	assert.Equal(t, uint8(event.KindData), rec.Kind)
}

func TestNatsMessage(t *testing.T) {
	ev := rowEvent(4)
	msg, err := natsMessage("burrow.shop.orders", ev)
	require.NoError(t, err)

	assert.Equal(t, "burrow.shop.orders", msg.Subject)
	assert.Equal(t, ev.Source(), msg.Header.Get("source"))
	assert.Equal(t, "4", msg.Header.Get("seqno"))
	assert.Equal(t, ev.Source()+":4", msgID(ev))

	var rec event.Record
	require.NoError(t, encoding.Unmarshal(msg.Data, &rec))
	assert.Equal(t, uint64(4), rec.Seqno)

	note, err := natsMessage("burrow.notes", event.NewBackupCompletion("file:///b1"))
	require.NoError(t, err)
	require.NoError(t, encoding.Unmarshal(note.Data, &rec))
	assert.Equal(t, "file:///b1", rec.URI)
}

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "burrow_shop_orders", sanitizeStreamName("burrow.shop.orders"))
	assert.Equal(t, "a_b_c_d", sanitizeStreamName("a*b>c d"))
}

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})

	assert.Len(t, config.Brokers, 2)
	assert.Equal(t, DefaultKafkaBatchSize, config.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), config.BatchBytes)
	assert.Equal(t, kafka.RequireAll, config.RequiredAcks)
	assert.Equal(t, kafka.Zstd, config.Compression)
	assert.Equal(t, DefaultKafkaBatchTimeout, config.BatchTimeout)
	assert.True(t, config.AutoCreate)
}

func TestNewKafkaSink(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		TopicPrefix:  "cdc",
		BatchSize:    50,
		BatchBytes:   2048,
		RequiredAcks: kafka.RequireOne,
	})
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, 50, sink.writer.BatchSize)
	assert.Equal(t, int64(2048), sink.writer.BatchBytes)
	assert.Equal(t, kafka.RequireOne, sink.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, sink.writer.Balancer)
	assert.False(t, sink.writer.Async)
	assert.Equal(t, "cdc", sink.topicPrefix)
}

func TestNewKafkaSink_Defaults(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, DefaultKafkaBatchSize, sink.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), sink.writer.BatchBytes)
	assert.Equal(t, DefaultKafkaBatchTimeout, sink.writer.BatchTimeout)
}

func TestNewKafkaSink_NoBrokers(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)
}

func TestKafkaSink_CloseNilWriter(t *testing.T) {
	assert.NoError(t, (&KafkaSink{}).Close())
}

func TestRegisteredAppliers(t *testing.T) {
	a, err := apply.CreateApplier(cfg.ApplierConfiguration{Type: "log"})
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, a)

	a, err = apply.CreateApplier(cfg.ApplierConfiguration{Type: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &MockSink{}, a)

	a, err = apply.CreateApplier(cfg.ApplierConfiguration{Type: "kafka", Brokers: []string{"localhost:9092"}, TopicPrefix: "p"})
	require.NoError(t, err)
	assert.Equal(t, "p", a.(*KafkaSink).topicPrefix)
	require.NoError(t, a.Close())

	_, err = apply.CreateApplier(cfg.ApplierConfiguration{Type: "nats"})
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))

	require.NoError(t, s.Apply(context.Background(), rowEvent(42)))
	out := buf.String()
	assert.Contains(t, out, `"seqno":42`)
	assert.Contains(t, out, `"key":"shop.orders"`)
	assert.Contains(t, out, `"columns":["id","total"]`)
	assert.Contains(t, out, "Applied event")
	assert.NoError(t, s.Close())
}

func TestMockSink(t *testing.T) {
	m := &MockSink{}
	require.NoError(t, m.Apply(context.Background(), rowEvent(1)))
	require.NoError(t, m.Apply(context.Background(), rowEvent(2)))
	assert.Equal(t, []uint64{1, 2}, m.Seqnos())
	assert.Len(t, m.Events(), 2)

	boom := errors.New("boom")
	m.ApplyErr = boom
	assert.ErrorIs(t, m.Apply(context.Background(), rowEvent(3)), boom)
	m.ApplyErr = nil

	hookErr := errors.New("hook")
	m.Hook = func(ctx context.Context, ev *event.Event) error {
		if ev.Seqno() == 4 {
			return hookErr
		}
		return nil
	}
	assert.ErrorIs(t, m.Apply(context.Background(), rowEvent(4)), hookErr)
	require.NoError(t, m.Apply(context.Background(), rowEvent(5)))
	assert.Equal(t, []uint64{1, 2, 5}, m.Seqnos())

	m.Reset()
	assert.Empty(t, m.Events())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}
