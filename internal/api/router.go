// Package api exposes the pipeline over HTTP.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/api/handlers"
	"github.com/dvloznov/medallion-pipeline/internal/api/middleware"
	"github.com/dvloznov/medallion-pipeline/internal/jobs"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// Deps are the collaborators served by the router.
type Deps struct {
	Store     *store.Store
	Frontier  handlers.FrontierReader
	Publisher jobs.Publisher
	Jobs      jobs.JobStore
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
}

// NewRouter builds the HTTP handler with the middleware chain applied.
func NewRouter(d Deps) http.Handler {
	statsHandler := handlers.NewStatsHandler(d.Store, d.Frontier, d.Log)
	goldHandler := handlers.NewGoldHandler(d.Store)
	runsHandler := handlers.NewRunsHandler(d.Publisher, d.Jobs)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			statsHandler.GetStats(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/gold", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			goldHandler.ListSummaries(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			runsHandler.ListRuns(w, r)
		case http.MethodPost:
			runsHandler.CreateRun(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/runs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		runsHandler.GetRun(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(d.Log),
		middleware.Logger(d.Log),
		middleware.CORS,
	)
}
