// Package partition assigns events to parallel apply channels.
package partition

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/burrow/binlog"
	"github.com/maxpert/burrow/event"
)

// ErrNoPartitions is returned when a partitioner has no partitions to choose from.
var ErrNoPartitions = errors.New("no partitions configured")

// Partitioner picks the channel for an event. Setup is called once when the
// channel topology is fixed. Partition must be safe for concurrent use, must
// not block and must not modify the metadata list.
type Partitioner interface {
	Name() string
	Setup(partitions []*Metadata) error
	Partition(ev *event.Event) (int, error)
}

// Strategy names accepted by New
const (
	StrategyLoadBalancing = "load_balancing"
	StrategyKeyHash       = "key_hash"
)

// New creates a partitioner by strategy name. keyMode applies to key_hash only.
func New(strategy string, keyMode KeyMode) (Partitioner, error) {
	switch strategy {
	case StrategyLoadBalancing, "":
		return &LoadBalancing{}, nil
	case StrategyKeyHash:
		return NewKeyHash(keyMode)
	default:
		return nil, fmt.Errorf("unknown partitioner: %s", strategy)
	}
}

// topology holds the metadata list handed to Setup.
type topology struct {
	partitions atomic.Pointer[[]*Metadata]
}

func (t *topology) setup(partitions []*Metadata) error {
	if len(partitions) == 0 {
		return ErrNoPartitions
	}
	list := append([]*Metadata(nil), partitions...)
	t.partitions.Store(&list)
	return nil
}

func (t *topology) list() ([]*Metadata, error) {
	p := t.partitions.Load()
	if p == nil {
		return nil, ErrNoPartitions
	}
	return *p, nil
}

// LoadBalancing sends each event to the least loaded channel.
//
// Partitions are scanned in order. The first partition with size 0 is
// chosen immediately, without looking further. Otherwise the first
// partition with the strictly smallest size wins.
//
// Ordering trade-off: consecutive events of one source may land on
// different channels, and channels apply independently, so events of a
// source are not guaranteed to be applied in seqno order across channels.
// Each channel applies its own events in FIFO order. Use KeyHash when
// downstream consumers need per-key order end to end.
type LoadBalancing struct {
	topology
}

func (p *LoadBalancing) Name() string { return StrategyLoadBalancing }

func (p *LoadBalancing) Setup(partitions []*Metadata) error {
	return p.setup(partitions)
}

func (p *LoadBalancing) Partition(_ *event.Event) (int, error) {
	partitions, err := p.list()
	if err != nil {
		return 0, err
	}

	best := partitions[0]
	bestSize := best.CurrentSize()
	if bestSize == 0 {
		return best.PartitionNumber(), nil
	}

	for _, m := range partitions[1:] {
		size := m.CurrentSize()
		if size == 0 {
			return m.PartitionNumber(), nil
		}
		if size < bestSize {
			best, bestSize = m, size
		}
	}
	return best.PartitionNumber(), nil
}

// KeyMode selects the ordering key KeyHash hashes.
type KeyMode string

const (
	// KeySource keeps every event of a source on one channel.
	KeySource KeyMode = "source"
	// KeyTable keeps every event of a table on one channel. Statements and
	// other payloads have no table and hash by source.
	KeyTable KeyMode = "table"
)

// KeyHash sends every event with the same ordering key to the same channel,
// chosen as XXH64(key) mod N. Per-key order holds end to end because one
// channel applies in FIFO order. Load is not balanced.
type KeyHash struct {
	topology
	mode KeyMode
}

// NewKeyHash creates a key-hash partitioner.
func NewKeyHash(mode KeyMode) (*KeyHash, error) {
	switch mode {
	case "":
		mode = KeySource
	case KeySource, KeyTable:
	default:
		return nil, fmt.Errorf("unknown partition key mode: %s", mode)
	}
	return &KeyHash{mode: mode}, nil
}

func (p *KeyHash) Name() string { return StrategyKeyHash }

func (p *KeyHash) Setup(partitions []*Metadata) error {
	return p.setup(partitions)
}

func (p *KeyHash) Partition(ev *event.Event) (int, error) {
	partitions, err := p.list()
	if err != nil {
		return 0, err
	}

	idx := xxhash.Sum64String(p.key(ev)) % uint64(len(partitions))
	return partitions[idx].PartitionNumber(), nil
}

func (p *KeyHash) key(ev *event.Event) string {
	if p.mode == KeySource {
		return ev.Source()
	}
	if rc, ok := ev.Payload().(*binlog.RowChange); ok {
		return rc.QualifiedName()
	}
	return ev.Source()
}
