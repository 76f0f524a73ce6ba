package sink

import (
	"context"

	"github.com/maxpert/burrow/apply"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	apply.RegisterApplier("log", func(config cfg.ApplierConfiguration) (apply.Applier, error) {
		return NewLogSink(log.Logger), nil
	})
}

// LogSink applies events by writing them to a zerolog logger. Useful for
// dry runs and for inspecting a stream.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log sink writing to logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Apply(_ context.Context, ev *event.Event) error {
	e := s.logger.Info().
		Str("source", ev.Source()).
		Uint64("seqno", ev.Seqno()).
		Str("key", ev.Key()).
		Time("ts", ev.Timestamp())

	switch p := ev.Payload().(type) {
	case *binlog.RowChange:
		e = e.Uint8("op", p.Op).
			Strs("columns", p.Columns).
			Interface("before", p.Before).
			Interface("after", p.After)
	case *binlog.Statement:
		e = e.Str("sql", p.SQL)
	}
	if err := ev.Err(); err != nil {
		e = e.AnErr("event_err", err)
	}

	e.Msg("Applied event")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
