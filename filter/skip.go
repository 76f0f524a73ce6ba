package filter

import (
	"fmt"

	"github.com/maxpert/burrow/event"
)

// SkipSeqno drops data events whose seqno falls in a closed range.
//
// Without Multiple the range is [Start, Start+Range-1] and a negative Start
// disables the filter. With Multiple the range start is the largest multiple
// of Start not above the seqno, so every Start-th block of Range seqnos is
// dropped; Start <= 0 disables the filter rather than dividing by zero.
type SkipSeqno struct {
	name     string
	start    int64
	length   int64
	multiple bool
	counters *Counters

	enabled bool
}

// SkipSeqnoConfig holds the parameters of a SkipSeqno filter.
type SkipSeqnoConfig struct {
	Name     string
	Start    int64 // -1 disables
	Range    int64 // >= 1
	Multiple bool
}

// DefaultSkipSeqnoConfig returns a disabled configuration.
func DefaultSkipSeqnoConfig() SkipSeqnoConfig {
	return SkipSeqnoConfig{Name: "skip_seqno", Start: -1, Range: 1}
}

// NewSkipSeqno creates the filter. counters may be nil.
func NewSkipSeqno(config SkipSeqnoConfig, counters *Counters) *SkipSeqno {
	if counters == nil {
		counters = &Counters{}
	}
	if config.Name == "" {
		config.Name = "skip_seqno"
	}
	return &SkipSeqno{
		name:     config.Name,
		start:    config.Start,
		length:   config.Range,
		multiple: config.Multiple,
		counters: counters,
	}
}

func (f *SkipSeqno) Name() string { return f.name }

func (f *SkipSeqno) Configure() error {
	f.counters.Configured.Add(1)

	if f.length < 1 {
		return &ConfigurationError{Filter: f.name, Reason: fmt.Sprintf("skip_seqno_range must be >= 1, got %d", f.length)}
	}

	if f.multiple {
		f.enabled = f.start > 0
	} else {
		f.enabled = f.start >= 0
	}
	return nil
}

func (f *SkipSeqno) Prepare() error {
	f.counters.Prepared.Add(1)
	return nil
}

func (f *SkipSeqno) Process(ev *event.Event) (Decision, error) {
	f.counters.Processed.Add(1)

	if f.skips(ev.Seqno()) {
		f.counters.Dropped.Add(1)
		return Drop(), nil
	}
	return Pass(ev), nil
}

func (f *SkipSeqno) Release() error {
	f.counters.Released.Add(1)
	return nil
}

func (f *SkipSeqno) skips(seqno uint64) bool {
	if !f.enabled {
		return false
	}

	base := uint64(f.start)
	if f.multiple {
		base = seqno / base * base
	}
	return seqno >= base && seqno-base <= uint64(f.length-1)
}
