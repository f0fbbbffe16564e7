package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/medallion-pipeline/internal/api/middleware"
	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/jobs"
	"github.com/dvloznov/medallion-pipeline/internal/logger"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// StatsReader reports per-layer row counts.
type StatsReader interface {
	Stats(ctx context.Context) (domain.LayerStats, error)
}

// FrontierReader reports the latest gold summary date.
type FrontierReader interface {
	Frontier(ctx context.Context) (string, bool, error)
}

// StatsHandler handles layer statistics.
type StatsHandler struct {
	stats    StatsReader
	frontier FrontierReader
	log      zerolog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats StatsReader, frontier FrontierReader, log zerolog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, frontier: frontier, log: log}
}

// GetStats handles GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.stats.Stats(ctx)
	if err != nil {
		l := logger.FromContext(ctx)
		l.Error().Err(err).Msg("Failed to read layer stats")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read layer stats")
		return
	}

	resp := map[string]interface{}{
		"bronze_count": stats.Bronze,
		"silver_count": stats.Silver,
		"gold_count":   stats.Gold,
	}
	if h.frontier != nil {
		date, ok, err := h.frontier.Frontier(ctx)
		if err != nil {
			l := logger.FromContext(ctx)
			l.Error().Err(err).Msg("Failed to read gold frontier")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to read gold frontier")
			return
		}
		if ok {
			resp["gold_frontier"] = date
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GoldHandler serves gold summaries.
type GoldHandler struct {
	store *store.Store
}

// NewGoldHandler creates a new gold handler.
func NewGoldHandler(s *store.Store) *GoldHandler {
	return &GoldHandler{store: s}
}

// ListSummaries handles GET /api/gold
//
// Optional query parameters from and to (inclusive, YYYY-MM-DD), type and
// category narrow the result.
func (h *GoldHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	opts := []store.Option{store.OrderBy("summary_date, transaction_type, category")}
	for _, p := range []struct {
		param string
		cond  string
	}{
		{"from", "summary_date >= ?"},
		{"to", "summary_date <= ?"},
	} {
		v := query.Get(p.param)
		if v == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, v); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid "+p.param+" date, expected YYYY-MM-DD")
			return
		}
		opts = append(opts, store.Where(p.cond, v))
	}
	if v := query.Get("type"); v != "" {
		opts = append(opts, store.Where("transaction_type = ?", v))
	}
	if v := query.Get("category"); v != "" {
		opts = append(opts, store.Where("category = ?", v))
	}

	summaries, err := store.SelectAll[domain.DailySummary](ctx, h.store.DB(), opts...)
	if err != nil {
		l := logger.FromContext(ctx)
		l.Error().Err(err).Msg("Failed to query gold summaries")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query gold summaries")
		return
	}
	if summaries == nil {
		summaries = []domain.DailySummary{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"count":     len(summaries),
	})
}

// RunsHandler enqueues pipeline runs and reports their jobs.
type RunsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, store jobs.JobStore) *RunsHandler {
	return &RunsHandler{publisher: publisher, store: store}
}

// CreateRun handles POST /api/runs
//
// The body is optional; {"input_path": "..."} names a file to ingest.
func (h *RunsHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		InputPath string `json:"input_path"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	job := &jobs.RunPipelineJob{
		InputPath: req.InputPath,
		Trigger:   jobs.TriggerAPI,
	}
	if err := h.publisher.PublishRunPipeline(ctx, job); err != nil {
		l := logger.FromContext(ctx)
		l.Error().Err(err).Msg("Failed to enqueue pipeline run")
		if errors.Is(err, jobs.ErrQueueClosed) {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Job queue is shutting down")
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue pipeline run")
		return
	}

	l := logger.FromContext(ctx)
	l.Info().Str("job_id", job.JobID).Str("input", job.InputPath).Msg("Pipeline run enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		l := logger.FromContext(ctx)
		l.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Trigger:     query.Get("trigger"),
		Status:      jobs.JobStatus(query.Get("status")),
		State:       strings.ToUpper(query.Get("state")),
		FailedStage: strings.ToUpper(query.Get("failed_stage")),
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
		filter.Since = t
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		l := logger.FromContext(ctx)
		l.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
