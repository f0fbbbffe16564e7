package inmemory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dvloznov/medallion-pipeline/internal/jobs"
)

// DefaultRetention is how many run records a Store keeps before evicting the
// oldest finished ones.
const DefaultRetention = 1000

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention caps the number of kept run records. Zero or less disables
// eviction.
func WithRetention(n int) StoreOption {
	return func(s *Store) { s.retention = n }
}

// Store keeps pipeline run records in memory, ordered by creation time.
// Running and pending runs are never evicted.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*jobs.RunPipelineJob
	order     []string // oldest first
	retention int
}

// NewStore creates an empty run store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:      make(map[string]*jobs.RunPipelineJob),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveJob inserts or replaces a run record.
func (s *Store) SaveJob(ctx context.Context, job *jobs.RunPipelineJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.byID[job.JobID]
	s.byID[job.JobID] = clone(job)
	if !exists || !prev.CreatedAt.Equal(job.CreatedAt) {
		s.reindex(job.JobID)
	}
	s.evict()
	return nil
}

// GetJob returns a copy of one run record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.RunPipelineJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	return clone(job), nil
}

// ListJobs returns copies of the matching records, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.RunPipelineJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*jobs.RunPipelineJob{}
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		job := s.byID[s.order[i]]
		if !filter.Match(job) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, clone(job))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdateJobStatus sets the status and, when non-empty, the error message.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	s.evict()
	return nil
}

// reindex moves id to its creation-time position; ties keep the ID order so
// listing is stable.
func (s *Store) reindex(id string) {
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	job := s.byID[id]
	pos, _ := slices.BinarySearchFunc(s.order, job, func(have string, want *jobs.RunPipelineJob) int {
		h := s.byID[have]
		if c := h.CreatedAt.Compare(want.CreatedAt); c != 0 {
			return c
		}
		switch {
		case have > want.JobID:
			return -1
		case have < want.JobID:
			return 1
		}
		return 0
	})
	s.order = slices.Insert(s.order, pos, id)
}

// evict drops the oldest finished records beyond the retention cap.
func (s *Store) evict() {
	excess := len(s.order) - s.retention
	if s.retention <= 0 || excess <= 0 {
		return
	}
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if excess == 0 || !s.byID[id].Finished() {
			return false
		}
		delete(s.byID, id)
		excess--
		return true
	})
}

func clone(job *jobs.RunPipelineJob) *jobs.RunPipelineJob {
	c := *job
	if job.Result != nil {
		r := *job.Result
		c.Result = &r
	}
	return &c
}

var _ jobs.JobStore = (*Store)(nil)
