// Package sink provides the downstream appliers: Kafka, NATS JetStream,
// a structured log applier and an in-memory mock for tests.
package sink

import (
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
)

// buildTopic names the destination of an event:
// prefix.schema.table for row changes, prefix.schema for statements and
// prefix.source for anything else.
func buildTopic(prefix string, ev *event.Event) string {
	var name string
	switch p := ev.Payload().(type) {
	case *binlog.RowChange:
		name = p.QualifiedName()
	case *binlog.Statement:
		name = p.Schema
	default:
		name = ev.Source()
	}

	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
