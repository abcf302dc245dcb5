package transform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjkd23/PagePersona-sub002/internal/metrics"
)

// ErrInvalidRequest marks submissions rejected before a job is created.
var ErrInvalidRequest = errors.New("invalid request")

// Scheduler hands admitted work to the pipeline. Satisfied by the
// dispatcher; kept narrow so tests can capture scheduled items.
type Scheduler interface {
	Enqueue(ctx context.Context, item QueueItem) error
}

// Submission is the outcome of an admission call.
type Submission struct {
	JobID  string
	Status Status
	Result *Result
	Cached bool
}

// ServiceConfig carries the admission-side tunables.
type ServiceConfig struct {
	// EnqueueTimeout bounds how long Submit waits for queue space before
	// failing the job instead of blocking the caller.
	EnqueueTimeout time.Duration
}

// Service implements the admission and polling surface. It decides, per
// request, whether to answer from cache, attach the caller to a job already
// in flight, or create and schedule a new job. Workers own everything past
// the queue.
type Service struct {
	jobs      JobStore
	cache     ResultCache
	locks     LockCoordinator
	scheduler Scheduler
	usage     UsageGate
	personas  PersonaDirectory
	cfg       ServiceConfig
	logger    *zap.Logger
}

// NewService constructs a Service. The usage gate may be nil, in which case
// submissions are not rate limited.
func NewService(
	jobs JobStore,
	cache ResultCache,
	locks LockCoordinator,
	scheduler Scheduler,
	usage UsageGate,
	personas PersonaDirectory,
	cfg ServiceConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	return &Service{
		jobs:      jobs,
		cache:     cache,
		locks:     locks,
		scheduler: scheduler,
		usage:     usage,
		personas:  personas,
		cfg:       cfg,
		logger:    logger,
	}
}

// Submit admits a transformation request. Identical requests share one
// fingerprint, so concurrent submissions converge on a single job and a
// single pipeline execution.
func (s *Service) Submit(ctx context.Context, req Request) (Submission, error) {
	req, err := s.validate(req)
	if err != nil {
		return Submission{}, err
	}
	if s.usage != nil {
		if err := s.usage.CheckAndReserve(ctx, req.UserID); err != nil {
			return Submission{}, err
		}
	}

	content := req.Text
	if req.Kind == KindURL {
		content = req.URL
	}
	fp := Fingerprint(req.Kind, content, req.Persona)

	if result, ok := s.cache.Get(fp); ok {
		metrics.ObserveCacheLookup(true)
		return Submission{JobID: fp, Status: StatusDone, Result: &result, Cached: true}, nil
	}
	metrics.ObserveCacheLookup(false)

	if existing, err := s.jobs.Get(ctx, fp); err == nil {
		if sub, handled := s.attachExisting(ctx, existing, req); handled {
			return sub, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Submission{}, fmt.Errorf("look up job %s: %w", fp, err)
	}

	job, err := s.jobs.Create(ctx, Job{ID: fp, Fingerprint: fp, Request: req})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost the creation race; report the winner's state.
			return submissionFor(job), nil
		}
		return Submission{}, fmt.Errorf("create job %s: %w", fp, err)
	}

	owner := LockOwner(job.ID, job.Attempt)
	if !s.locks.TryAcquire(fp, owner) {
		// Another submitter is scheduling this fingerprint right now.
		return Submission{JobID: fp, Status: StatusQueued}, nil
	}
	if err := s.schedule(ctx, job); err != nil {
		s.locks.Release(fp, owner)
		return Submission{}, err
	}

	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("persona", req.Persona),
		zap.String("kind", string(req.Kind)),
		zap.Int("attempt", job.Attempt),
	)
	return Submission{JobID: job.ID, Status: StatusQueued}, nil
}

// attachExisting resolves a submission against a job record already present
// for the fingerprint. It reports handled=false when admission should fall
// through to creating a replacement job.
func (s *Service) attachExisting(ctx context.Context, existing Job, req Request) (Submission, bool) {
	if existing.Status.Terminal() {
		if existing.Status == StatusDone && existing.Result != nil {
			// Retained done jobs answer repeats even after cache eviction.
			return Submission{
				JobID:  existing.ID,
				Status: StatusDone,
				Result: existing.Result,
				Cached: true,
			}, true
		}
		// Failed jobs are replaced by a fresh attempt.
		return Submission{}, false
	}

	// The job is live. If its lease is still held a worker (or a submitter
	// mid-schedule) owns it and the caller just polls. A free lease means
	// the owning worker died; whoever wins the lease requeues the job.
	owner := LockOwner(existing.ID, existing.Attempt+1)
	if !s.locks.TryAcquire(existing.Fingerprint, owner) {
		return submissionFor(existing), true
	}

	requeued, err := s.jobs.Requeue(ctx, existing.ID)
	if err != nil {
		s.locks.Release(existing.Fingerprint, owner)
		if current, getErr := s.jobs.Get(ctx, existing.ID); getErr == nil {
			return submissionFor(current), true
		}
		return submissionFor(existing), true
	}
	if err := s.schedule(ctx, requeued); err != nil {
		s.locks.Release(existing.Fingerprint, owner)
		s.logger.Error("requeue schedule failed", zap.String("job_id", existing.ID), zap.Error(err))
		return Submission{JobID: existing.ID, Status: StatusError}, true
	}

	s.logger.Warn("abandoned job requeued",
		zap.String("job_id", existing.ID),
		zap.Int("attempt", requeued.Attempt),
	)
	return Submission{JobID: existing.ID, Status: StatusQueued}, true
}

func (s *Service) schedule(ctx context.Context, job Job) error {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()

	item := QueueItem{
		JobID:       job.ID,
		Fingerprint: job.Fingerprint,
		Attempt:     job.Attempt,
		Request:     job.Request,
		Submitted:   job.UpdatedAt.Unix(),
	}
	if err := s.scheduler.Enqueue(qctx, item); err != nil {
		jobErr := JobError{Kind: ErrorKindInternal, Message: "pipeline queue unavailable"}
		if failErr := s.jobs.Fail(ctx, job.ID, job.Attempt, jobErr); failErr != nil {
			s.logger.Warn("failed to mark unscheduled job", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return nil
}

// Poll returns the current state of a job.
func (s *Service) Poll(ctx context.Context, jobID string) (Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// CacheStats reports result cache counters for the admin surface.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// ClearCache empties the result cache. In-flight and stored jobs are
// untouched.
func (s *Service) ClearCache() {
	s.cache.Clear()
}

func submissionFor(job Job) Submission {
	sub := Submission{JobID: job.ID, Status: job.Status}
	if job.Status == StatusDone && job.Result != nil {
		sub.Result = job.Result
		sub.Cached = true
	}
	return sub
}

func (s *Service) validate(req Request) (Request, error) {
	req.Persona = strings.TrimSpace(req.Persona)
	if req.Persona == "" {
		return req, fmt.Errorf("%w: persona is required", ErrInvalidRequest)
	}
	if s.personas != nil && !s.personas.Exists(req.Persona) {
		return req, fmt.Errorf("%w: unknown persona %q", ErrInvalidRequest, req.Persona)
	}

	switch req.Kind {
	case KindURL:
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			return req, fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return req, fmt.Errorf("%w: url must be absolute http or https", ErrInvalidRequest)
		}
		req.URL = NormalizeURL(req.URL)
		req.Text = ""
	case KindText:
		req.Text = strings.TrimSpace(req.Text)
		if req.Text == "" {
			return req, fmt.Errorf("%w: text is required", ErrInvalidRequest)
		}
		req.URL = ""
	default:
		return req, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	return req, nil
}
