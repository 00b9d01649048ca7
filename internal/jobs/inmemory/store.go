package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/statement-booking/internal/jobs"
)

// Store is an in-memory JobStore, safe for concurrent use.
// Jobs are copied on the way in and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*jobs.ImportStatementJob
	retain int
}

// NewStore creates a store that keeps every job.
func NewStore() *Store {
	return NewStoreWithRetention(0)
}

// NewStoreWithRetention creates a store that keeps at most retain finished jobs, evicting the
// ones that finished first. Pending and running jobs are never evicted.
func NewStoreWithRetention(retain int) *Store {
	return &Store{
		jobs:   make(map[string]*jobs.ImportStatementJob),
		retain: retain,
	}
}

func (s *Store) SaveJob(ctx context.Context, job *jobs.ImportStatementJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.JobID] = job.Clone()
	if job.Status.IsFinished() {
		s.evictLocked()
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ImportStatementJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// ListJobs returns the matching jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ImportStatementJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.ImportStatementJob
	for _, job := range s.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ImportStatementJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("UpdateJobStatus: %s: %w", jobID, jobs.ErrJobNotFound)
	}

	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	if status.IsFinished() {
		s.evictLocked()
	}
	return nil
}

func (s *Store) evictLocked() {
	if s.retain <= 0 {
		return
	}
	var finished []*jobs.ImportStatementJob
	for _, job := range s.jobs {
		if job.Status.IsFinished() {
			finished = append(finished, job)
		}
	}
	if len(finished) <= s.retain {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		ti, tj := finishedAt(finished[i]), finishedAt(finished[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return finished[i].JobID < finished[j].JobID
	})
	for _, job := range finished[:len(finished)-s.retain] {
		delete(s.jobs, job.JobID)
	}
}

func finishedAt(job *jobs.ImportStatementJob) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

var _ jobs.JobStore = (*Store)(nil)
