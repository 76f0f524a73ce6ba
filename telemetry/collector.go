package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// StatsProvider reports queue depths that are sampled rather than counted.
type StatsProvider interface {
	PartitionSizes() []int64
	ExecutorCounts() (pending, active int)
}

// MetricsCollector samples a StatsProvider into the partition and executor
// gauges on a fixed interval.
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{provider: provider, interval: interval}
}

// Start samples once immediately, then every interval until Stop.
func (mc *MetricsCollector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	mc.cancel = cancel
	mc.done = make(chan struct{})
	go mc.run(ctx)
}

// Stop is idempotent and waits for the sampling goroutine.
func (mc *MetricsCollector) Stop() {
	mc.once.Do(func() {
		if mc.cancel == nil {
			return
		}
		mc.cancel()
		<-mc.done
	})
}

func (mc *MetricsCollector) run(ctx context.Context) {
	defer close(mc.done)

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		mc.collect()
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	for i, size := range mc.provider.PartitionSizes() {
		PartitionQueueSize.With(strconv.Itoa(i)).Set(float64(size))
	}

	pending, active := mc.provider.ExecutorCounts()
	ExecutorPending.Set(float64(pending))
	ExecutorActive.Set(float64(active))
}
