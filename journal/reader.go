package journal

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Reader hands out the records of one source in journal order and
// implements binlog.Source. The cursor advances as records are handed out,
// so a restarted reader resumes after the last record it returned.
type Reader struct {
	j        *Journal
	name     string
	sourceID string
	batch    int

	mu      sync.Mutex
	cursor  uint64
	pending []Entry
}

// Reader creates a reader persisting its cursor under name and returning
// only records appended for sourceID.
func (j *Journal) Reader(name, sourceID string) (*Reader, error) {
	cursor, err := j.GetCursor(name)
	if err != nil {
		return nil, err
	}
	return &Reader{j: j, name: name, sourceID: sourceID, batch: defaultReadLimit, cursor: cursor}, nil
}

// ID returns the source id the reader filters on.
func (r *Reader) ID() string {
	return r.sourceID
}

// Cursor returns the position of the last record handed out.
func (r *Reader) Cursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Read returns the next record of the source, or io.EOF when the journal
// holds nothing newer. A later Read may succeed once more is appended.
func (r *Reader) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if len(r.pending) == 0 {
			entries, err := r.j.ReadFrom(r.cursor, r.batch)
			if err != nil {
				return nil, fmt.Errorf("journal reader %s: %w", r.name, err)
			}
			if len(entries) == 0 {
				return nil, io.EOF
			}
			r.pending = entries
		}

		e := r.pending[0]
		r.pending = r.pending[1:]

		if err := r.j.AdvanceCursor(r.name, e.Position); err != nil {
			r.pending = nil
			return nil, fmt.Errorf("journal reader %s: %w", r.name, err)
		}
		r.cursor = e.Position

		if e.Source == r.sourceID {
			return e.Record, nil
		}
	}
}
