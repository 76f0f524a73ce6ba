// Package admin serves the diagnostics HTTP endpoints.
package admin

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin router. metrics may be nil when Prometheus is
// disabled.
func NewRouter(handlers *Handlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/status", handlers.handleStatus)
	r.Get("/partitions", handlers.handlePartitions)
	r.Get("/partitions/{partition}", handlers.handlePartition)
	r.Get("/executor", handlers.handleExecutor)
	r.Get("/journal", handlers.handleJournal)
	r.Post("/backup", handlers.handleBackup)
	r.Post("/consistency-check", handlers.handleConsistencyCheck)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	// Profiling
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.HandleFunc("/{name}", pprof.Index)
	})

	return r
}
