package filter

import (
	"fmt"
	"sync"

	"github.com/maxpert/burrow/cfg"
)

// Factory builds a filter from its configuration entry.
type Factory func(conf cfg.FilterConfiguration) (Filter, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register adds a filter factory under a type name
func Register(filterType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[filterType] = factory
}

// Create builds a single filter from its configuration entry
func Create(conf cfg.FilterConfiguration) (Filter, error) {
	registryMu.RLock()
	factory, ok := factories[conf.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown filter type: %s", conf.Type)
	}
	return factory(conf)
}

// Build creates an unconfigured chain from configuration entries, in order.
func Build(confs []cfg.FilterConfiguration) (*Chain, error) {
	filters := make([]Filter, 0, len(confs))
	for i, conf := range confs {
		f, err := Create(conf)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		filters = append(filters, f)
	}
	return NewChain(filters...), nil
}

func init() {
	Register("skip_seqno", func(conf cfg.FilterConfiguration) (Filter, error) {
		sc := DefaultSkipSeqnoConfig()
		if conf.Name != "" {
			sc.Name = conf.Name
		}
		if conf.SkipSeqnoStart != nil {
			sc.Start = *conf.SkipSeqnoStart
		}
		if conf.SkipSeqnoRange != nil {
			sc.Range = *conf.SkipSeqnoRange
		}
		sc.Multiple = conf.SkipSeqnoMultiple
		return NewSkipSeqno(sc, nil), nil
	})

	Register("glob", func(conf cfg.FilterConfiguration) (Filter, error) {
		return NewGlob(conf.Name, conf.Schemas, conf.Tables), nil
	})

	Register("dedup", func(conf cfg.FilterConfiguration) (Filter, error) {
		return NewDedup(conf.Name, conf.DedupCapacity), nil
	})
}
