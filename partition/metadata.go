package partition

import "sync/atomic"

// Metadata describes one apply channel. The partition number is fixed at
// creation; the size is the approximate count of events enqueued to the
// channel and not yet applied, readable from any goroutine without locking.
type Metadata struct {
	number int
	size   atomic.Int64
}

// NewMetadata creates metadata for partition number n with size 0.
func NewMetadata(n int) *Metadata {
	return &Metadata{number: n}
}

// NewMetadataList creates metadata for partitions 0..n-1.
func NewMetadataList(n int) []*Metadata {
	list := make([]*Metadata, n)
	for i := range list {
		list[i] = NewMetadata(i)
	}
	return list
}

// PartitionNumber returns the stable 0-based identity of the partition.
func (m *Metadata) PartitionNumber() int { return m.number }

// CurrentSize returns the pending event count.
func (m *Metadata) CurrentSize() int64 { return m.size.Load() }

// Inc records one more pending event and returns the new size.
func (m *Metadata) Inc() int64 { return m.size.Add(1) }

// Dec records one event applied and returns the new size. The size never
// goes below zero.
func (m *Metadata) Dec() int64 {
	for {
		cur := m.size.Load()
		if cur <= 0 {
			return 0
		}
		if m.size.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}
