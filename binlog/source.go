package binlog

import (
	"context"
	"io"
	"sync"
)

// Source yields raw framed records for one upstream replication source, in
// log order. Read returns io.EOF once the source is exhausted.
type Source interface {
	ID() string
	Read(ctx context.Context) ([]byte, error)
}

// SliceSource replays a fixed list of records.
type SliceSource struct {
	id      string
	mu      sync.Mutex
	records [][]byte
	next    int
}

// NewSliceSource creates a source over records.
func NewSliceSource(id string, records ...[]byte) *SliceSource {
	return &SliceSource{id: id, records: records}
}

func (s *SliceSource) ID() string {
	return s.id
}

func (s *SliceSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}
