package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/burrow/executor"
	"github.com/maxpert/burrow/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{ stats pipeline.Stats }

func (f fakeStats) Stats() pipeline.Stats { return f.stats }

type fakeJournal struct {
	last   uint64
	cursor uint64
	err    error
}

func (f fakeJournal) LastPosition() uint64 { return f.last }
func (f fakeJournal) GetCursor(string) (uint64, error) {
	return f.cursor, f.err
}

func sampleStats() pipeline.Stats {
	return pipeline.Stats{
		Source:          "mysql-1",
		Running:         true,
		Received:        12,
		Enqueued:        10,
		Dropped:         2,
		ExecutorPending: 1,
		ExecutorActive:  2,
		Partitions: []pipeline.PartitionStats{
			{Partition: 0, Size: 3, LastApplied: 40, HasApplied: true, Applied: 7},
			{Partition: 1, Size: 0},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func newTestRouter(journal JournalSource, metrics http.Handler) http.Handler {
	return NewRouter(NewHandlers(7, fakeStats{sampleStats()}, journal, "main"), metrics)
}

func TestStatus(t *testing.T) {
	code, body := get(t, newTestRouter(nil, nil), "/status")
	require.Equal(t, http.StatusOK, code)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(7), data["node_id"])
	assert.Equal(t, "mysql-1", data["source"])
	assert.Equal(t, true, data["running"])
	assert.Equal(t, float64(10), data["enqueued"])
}

func TestPartitions(t *testing.T) {
	r := newTestRouter(nil, nil)

	code, body := get(t, r, "/partitions")
	require.Equal(t, http.StatusOK, code)
	parts := body["data"].([]interface{})
	require.Len(t, parts, 2)
	first := parts[0].(map[string]interface{})
	assert.Equal(t, float64(3), first["size"])
	assert.Equal(t, float64(40), first["last_applied"])

	code, body = get(t, r, "/partitions/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["partition"])

	code, _ = get(t, r, "/partitions/9")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, r, "/partitions/abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestExecutor(t *testing.T) {
	code, body := get(t, newTestRouter(nil, nil), "/executor")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["pending"])
	assert.Equal(t, float64(2), data["active"])
}

func TestJournal(t *testing.T) {
	code, _ := get(t, newTestRouter(nil, nil), "/journal")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := get(t, newTestRouter(fakeJournal{last: 100, cursor: 60}, nil), "/journal")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(40), data["lag"])
	assert.Equal(t, "main", data["reader"])

	code, _ = get(t, newTestRouter(fakeJournal{err: errors.New("closed")}, nil), "/journal")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("burrow_up 1\n"))
	})
	rec = httptest.NewRecorder()
	newTestRouter(nil, metrics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "burrow_up 1")
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestRouter(nil, nil))
	require.NoError(t, s.Start())
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// fakeTasks runs submitted work on a real executor, or rejects it with err.
type fakeTasks struct {
	ex  *executor.Executor
	err error
}

func (f fakeTasks) Backup(ctx context.Context, fn pipeline.BackupFunc) (*executor.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ex.Submit(func(taskCtx context.Context) error {
		_, err := fn(taskCtx)
		return err
	})
}

func (f fakeTasks) CheckConsistency(ctx context.Context, fn pipeline.CheckFunc) (*executor.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ex.Submit(executor.Task(fn))
}

func post(t *testing.T, h http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestTasks_NotConfigured(t *testing.T) {
	r := newTestRouter(nil, nil)
	code, _ := post(t, r, "/backup")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = post(t, r, "/consistency-check")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTasks_SubmitsToExecutor(t *testing.T) {
	ex, err := executor.New(executor.Config{Name: "admin", MaxThreads: 1, MaxRequests: 4})
	require.NoError(t, err)
	defer ex.ShutdownImmediate()

	backups := make(chan struct{}, 1)
	checks := make(chan struct{}, 1)
	h := NewHandlers(7, fakeStats{sampleStats()}, nil, "main").WithTasks(fakeTasks{ex: ex},
		func(ctx context.Context) (string, error) {
			backups <- struct{}{}
			return "file:///tmp/b", nil
		},
		func(ctx context.Context) error {
			checks <- struct{}{}
			return nil
		})
	r := NewRouter(h, nil)

	code, body := post(t, r, "/backup")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "backup", body["data"].(map[string]interface{})["submitted"])

	code, _ = post(t, r, "/consistency-check")
	require.Equal(t, http.StatusAccepted, code)

	for _, ch := range []chan struct{}{backups, checks} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("task did not run")
		}
	}
}

func TestTasks_RejectionStatus(t *testing.T) {
	check := func(ctx context.Context) error { return nil }
	cases := []struct {
		err  error
		code int
	}{
		{executor.ErrCapacityExceeded, http.StatusTooManyRequests},
		{pipeline.ErrHalted, http.StatusServiceUnavailable},
		{pipeline.ErrNoExecutor, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewHandlers(7, fakeStats{sampleStats()}, nil, "main").WithTasks(fakeTasks{err: tc.err}, nil, check)
		code, body := post(t, NewRouter(h, nil), "/consistency-check")
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.Equal(t, tc.err.Error(), body["error"])
	}
}
