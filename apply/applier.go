// Package apply runs the per-partition apply channels that hand events to
// the downstream applier.
package apply

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxpert/burrow/cfg"
	"github.com/maxpert/burrow/event"
)

// Applier delivers data events downstream. Apply is called from one
// goroutine per channel; implementations shared by several channels must be
// safe for concurrent use.
type Applier interface {
	Apply(ctx context.Context, ev *event.Event) error
	Close() error
}

// ApplierFactory creates an applier from configuration
type ApplierFactory func(config cfg.ApplierConfiguration) (Applier, error)

var (
	appliersMu sync.RWMutex
	appliers   = make(map[string]ApplierFactory)
)

// RegisterApplier registers an applier factory for a given type
func RegisterApplier(applierType string, factory ApplierFactory) {
	appliersMu.Lock()
	defer appliersMu.Unlock()
	appliers[applierType] = factory
}

// CreateApplier creates an applier based on configuration
func CreateApplier(config cfg.ApplierConfiguration) (Applier, error) {
	appliersMu.RLock()
	factory, ok := appliers[config.Type]
	appliersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown applier type: %s", config.Type)
	}
	return factory(config)
}
