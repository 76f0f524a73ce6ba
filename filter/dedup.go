package filter

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
	"github.com/maxpert/burrow/event"
	"github.com/maxpert/burrow/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	dedupBucketSize      = 4
	dedupFingerprintSize = 32 // ~2.3e-10 false positive rate
	// DefaultDedupCapacity is the number of (source, seqno) pairs remembered.
	DefaultDedupCapacity = 1 << 20
)

// Dedup drops data events whose (source, seqno) pair was already seen, as
// happens when a source replays from an older position after a restart.
// Membership is approximate: a cuckoo filter over XXH64(source, seqno).
// When the filter fills up it starts over empty.
type Dedup struct {
	name     string
	capacity int

	mu     sync.Mutex
	filter *cuckoo.Filter
}

// NewDedup creates a dedup filter remembering up to capacity pairs.
func NewDedup(name string, capacity int) *Dedup {
	if name == "" {
		name = "dedup"
	}
	return &Dedup{name: name, capacity: capacity}
}

func (f *Dedup) Name() string { return f.name }

func (f *Dedup) Configure() error {
	if f.capacity == 0 {
		f.capacity = DefaultDedupCapacity
	}
	if f.capacity < dedupBucketSize {
		return &ConfigurationError{Filter: f.name, Reason: "dedup_capacity must be >= 4"}
	}
	return nil
}

func (f *Dedup) Prepare() error {
	f.mu.Lock()
	f.filter = f.newFilter()
	f.mu.Unlock()
	return nil
}

func (f *Dedup) newFilter() *cuckoo.Filter {
	return cuckoo.NewFilter(dedupBucketSize, dedupFingerprintSize,
		uint(f.capacity/dedupBucketSize), cuckoo.TableTypePacked)
}

func (f *Dedup) Process(ev *event.Event) (Decision, error) {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], ev.Seqno())

	h := xxhash.New()
	h.WriteString(ev.Source())
	h.Write([]byte{0})
	h.Write(seq[:])

	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], h.Sum64())

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filter.Contain(key[:]) {
		return Drop(), nil
	}

	if !f.filter.Add(key[:]) {
		log.Warn().Str("filter", f.name).Uint("size", f.filter.Size()).Msg("Dedup filter full, starting over")
		f.filter = f.newFilter()
		f.filter.Add(key[:])
	}
	telemetry.DedupFilterSize.Set(float64(f.filter.Size()))

	return Pass(ev), nil
}

func (f *Dedup) Release() error {
	f.mu.Lock()
	f.filter = nil
	f.mu.Unlock()
	return nil
}
