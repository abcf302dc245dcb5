// Package memory provides in-process store implementations for a single
// service instance.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// JobStore holds transformation job records keyed by the deterministic job
// id (derived from the fingerprint). All transitions are validated against
// the strict forward state machine queued -> running -> {done, error}, and
// every mutation is fenced by the attempt counter so a worker superseded by
// a lease handover can never clobber its successor's writes.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]transform.Job
	clock transform.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock transform.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]transform.Job),
		clock: clock,
	}
}

// Create inserts a job in queued status. A live (non-terminal) job under the
// same id is returned unchanged with ErrAlreadyExists; a terminal job is
// replaced by a fresh record that continues the attempt sequence.
func (s *JobStore) Create(_ context.Context, job transform.Job) (transform.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if existing, ok := s.jobs[job.ID]; ok {
		if !existing.Status.Terminal() {
			return existing, transform.ErrAlreadyExists
		}
		job.Attempt = existing.Attempt + 1
	} else {
		job.Attempt = 1
	}
	job.Status = transform.StatusQueued
	job.Stage = ""
	job.Progress = 0
	job.Result = nil
	job.Error = nil
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return job, nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, jobID string) (transform.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return transform.Job{}, transform.ErrNotFound
	}
	return job, nil
}

// Requeue resets a non-terminal job to queued and bumps its attempt. The
// caller must hold a fresh lock lease for the fingerprint; the bumped attempt
// fences out whatever worker abandoned the previous one.
func (s *JobStore) Requeue(_ context.Context, jobID string) (transform.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return transform.Job{}, transform.ErrNotFound
	}
	if job.Status.Terminal() {
		return transform.Job{}, transform.ErrTerminal
	}
	job.Attempt++
	job.Status = transform.StatusQueued
	job.Stage = ""
	job.Progress = 0
	job.Error = nil
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return job, nil
}

// Start transitions queued -> running and records the initial stage.
func (s *JobStore) Start(_ context.Context, jobID string, attempt int, stage transform.Stage) error {
	return s.mutate(jobID, attempt, func(job *transform.Job) error {
		if job.Status != transform.StatusQueued {
			return transform.ErrTerminal
		}
		job.Status = transform.StatusRunning
		job.Stage = stage
		job.Progress = 0
		return nil
	})
}

// UpdateProgress advances stage and progress. Regressions are rejected so
// pollers never observe state moving backwards.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, attempt int, stage transform.Stage, progress int) error {
	return s.mutate(jobID, attempt, func(job *transform.Job) error {
		if job.Status != transform.StatusRunning {
			return transform.ErrTerminal
		}
		if transform.StageRank(stage) < transform.StageRank(job.Stage) {
			return transform.ErrTerminal
		}
		if progress < job.Progress {
			progress = job.Progress
		}
		if progress > 100 {
			progress = 100
		}
		job.Stage = stage
		job.Progress = progress
		return nil
	})
}

// Complete transitions running -> done and records the result.
func (s *JobStore) Complete(_ context.Context, jobID string, attempt int, result transform.Result) error {
	return s.mutate(jobID, attempt, func(job *transform.Job) error {
		if job.Status != transform.StatusRunning {
			return transform.ErrTerminal
		}
		job.Status = transform.StatusDone
		job.Progress = 100
		job.Result = &result
		return nil
	})
}

// Fail transitions a queued or running job to error.
func (s *JobStore) Fail(_ context.Context, jobID string, attempt int, jobErr transform.JobError) error {
	return s.mutate(jobID, attempt, func(job *transform.Job) error {
		if job.Status.Terminal() {
			return transform.ErrTerminal
		}
		job.Status = transform.StatusError
		job.Error = &jobErr
		return nil
	})
}

// Prune removes terminal jobs last touched before the cutoff. Completed jobs
// are retained for a bounded window to answer late polls, then dropped.
func (s *JobStore) Prune(_ context.Context, olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *JobStore) mutate(jobID string, attempt int, apply func(*transform.Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return transform.ErrNotFound
	}
	if attempt != job.Attempt {
		return transform.ErrStaleAttempt
	}
	if err := apply(&job); err != nil {
		return err
	}
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}
