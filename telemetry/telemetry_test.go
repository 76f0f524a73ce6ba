package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/burrow/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls atomic.Int32
}

func (f *fakeProvider) PartitionSizes() []int64 {
	f.calls.Add(1)
	return []int64{3, 0}
}

func (f *fakeProvider) ExecutorCounts() (int, int) { return 2, 1 }

func scrape(t *testing.T) string {
	t.Helper()
	h := GetMetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNoopByDefault(t *testing.T) {
	// Metric variables are usable before initialization.
	assert.NotPanics(t, func() {
		AppliedEventsTotal.With("success").Inc()
		PartitionQueueSize.With("0").Set(1)
		ApplyDurationSeconds.Observe(0.1)
	})
}

func TestPrometheusMetricsAndCollector(t *testing.T) {
	prevEnabled := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = true
	t.Cleanup(func() {
		cfg.Config.Prometheus.Enabled = prevEnabled
		registry = nil
	})

	InitializeTelemetry()
	InitMetrics()

	JournalAppendedTotal.Add(3)
	AppliedEventsTotal.With("success").Inc()

	provider := &fakeProvider{}
	mc := NewMetricsCollector(provider, 5*time.Millisecond)
	mc.Start()
	assert.Eventually(t, func() bool { return provider.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	mc.Stop()

	out := scrape(t)
	assert.Contains(t, out, "burrow_journal_appended_total")
	assert.Contains(t, out, `burrow_applied_events_total{node_id=`)
	assert.Contains(t, out, `partition="0"`)
	assert.Contains(t, out, "burrow_executor_pending")
}

func TestGetMetricsHandler_Disabled(t *testing.T) {
	prev := registry
	registry = nil
	defer func() { registry = prev }()
	assert.Nil(t, GetMetricsHandler())
}
