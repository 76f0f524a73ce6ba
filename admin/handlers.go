package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/burrow/executor"
	"github.com/maxpert/burrow/pipeline"
	"github.com/rs/zerolog/log"
)

// StatsSource is the pipeline view the admin endpoints read.
type StatsSource interface {
	Stats() pipeline.Stats
}

// JournalSource is the journal view the admin endpoints read.
type JournalSource interface {
	LastPosition() uint64
	GetCursor(name string) (uint64, error)
}

// Tasks runs operator-triggered work on the pipeline's executor.
type Tasks interface {
	Backup(ctx context.Context, fn pipeline.BackupFunc) (*executor.Handle, error)
	CheckConsistency(ctx context.Context, fn pipeline.CheckFunc) (*executor.Handle, error)
}

// Handlers serves the diagnostics endpoints
type Handlers struct {
	nodeID  uint64
	stats   StatsSource
	journal JournalSource // may be nil
	reader  string        // journal cursor name of the pipeline source

	tasks  Tasks
	backup pipeline.BackupFunc
	check  pipeline.CheckFunc
}

// NewHandlers creates the diagnostics handlers. journal may be nil.
func NewHandlers(nodeID uint64, stats StatsSource, journal JournalSource, reader string) *Handlers {
	return &Handlers{nodeID: nodeID, stats: stats, journal: journal, reader: reader}
}

// WithTasks enables POST /backup and POST /consistency-check. Either func
// may be nil, which leaves its route answering 404.
func (h *Handlers) WithTasks(tasks Tasks, backup pipeline.BackupFunc, check pipeline.CheckFunc) *Handlers {
	h.tasks, h.backup, h.check = tasks, backup, check
	return h
}

// handleStatus returns the pipeline counters
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := h.stats.Stats()
	writeJSONResponse(w, map[string]interface{}{
		"node_id":           h.nodeID,
		"source":            s.Source,
		"running":           s.Running,
		"halted":            s.Halted,
		"received":          s.Received,
		"decode_errors":     s.DecodeErrors,
		"processing_errors": s.ProcessingErrors,
		"dropped":           s.Dropped,
		"enqueued":          s.Enqueued,
		"apply_failures":    s.ApplyFailures,
		"notifications":     s.Notifications,
	})
}

// handlePartitions lists every apply channel
func (h *Handlers) handlePartitions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.stats.Stats().Partitions)
}

// handlePartition returns one apply channel
func (h *Handlers) handlePartition(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "partition"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid partition number")
		return
	}

	for _, p := range h.stats.Stats().Partitions {
		if p.Partition == n {
			writeJSONResponse(w, p)
			return
		}
	}
	writeErrorResponse(w, http.StatusNotFound, "partition not found")
}

// handleExecutor returns the auxiliary executor load
func (h *Handlers) handleExecutor(w http.ResponseWriter, r *http.Request) {
	s := h.stats.Stats()
	writeJSONResponse(w, map[string]interface{}{
		"pending": s.ExecutorPending,
		"active":  s.ExecutorActive,
	})
}

// handleJournal returns the journal head and the source reader's cursor
func (h *Handlers) handleJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeErrorResponse(w, http.StatusNotFound, "journal not configured")
		return
	}

	cursor, err := h.journal.GetCursor(h.reader)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	last := h.journal.LastPosition()
	lag := uint64(0)
	if last > cursor {
		lag = last - cursor
	}
	writeJSONResponse(w, map[string]interface{}{
		"last_position": last,
		"reader":        h.reader,
		"cursor":        cursor,
		"lag":           lag,
	})
}

// handleBackup submits a backup; completion is announced as a
// BackupCompletion notification.
func (h *Handlers) handleBackup(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil || h.backup == nil {
		writeErrorResponse(w, http.StatusNotFound, "backup not configured")
		return
	}
	// The task outlives the request.
	_, err := h.tasks.Backup(context.WithoutCancel(r.Context()), h.backup)
	h.accepted(w, "backup", err)
}

// handleConsistencyCheck submits a consistency check; its outcome is
// announced as a ConsistencyCheck notification.
func (h *Handlers) handleConsistencyCheck(w http.ResponseWriter, r *http.Request) {
	if h.tasks == nil || h.check == nil {
		writeErrorResponse(w, http.StatusNotFound, "consistency check not configured")
		return
	}
	_, err := h.tasks.CheckConsistency(context.WithoutCancel(r.Context()), h.check)
	h.accepted(w, "consistency check", err)
}

func (h *Handlers) accepted(w http.ResponseWriter, task string, err error) {
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"submitted": task}}); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	case errors.Is(err, executor.ErrCapacityExceeded):
		writeErrorResponse(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, executor.ErrShutdown),
		errors.Is(err, pipeline.ErrNotRunning),
		errors.Is(err, pipeline.ErrHalted),
		errors.Is(err, pipeline.ErrNoExecutor):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
	if err != nil {
		log.Warn().Err(err).Str("task", task).Msg("Task rejected")
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
