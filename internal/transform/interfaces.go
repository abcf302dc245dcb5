package transform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	// ErrNotFound is returned when a job id is unknown or pruned.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned by Create when a live job holds the id.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrTerminal is returned for mutations of a done/error job.
	ErrTerminal = errors.New("job is terminal")
	// ErrStaleAttempt is returned when a superseded worker tries to write.
	ErrStaleAttempt = errors.New("job attempt superseded")
	// ErrQuotaExceeded is returned by the usage gate.
	ErrQuotaExceeded = errors.New("usage quota exceeded")
)

// JobStore persists job lifecycle records keyed by the deterministic job id.
type JobStore interface {
	// Create inserts a job in queued status. If a non-terminal job already
	// holds the id it returns the existing job and ErrAlreadyExists; a
	// terminal job is replaced with the attempt counter bumped.
	Create(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	// Requeue resets a non-terminal job to queued and bumps its attempt.
	// Used when a lock lease expired under a presumed-dead worker.
	Requeue(ctx context.Context, jobID string) (Job, error)
	// Start transitions queued -> running and sets the initial stage.
	Start(ctx context.Context, jobID string, attempt int, stage Stage) error
	// UpdateProgress advances stage/progress monotonically while running.
	UpdateProgress(ctx context.Context, jobID string, attempt int, stage Stage, progress int) error
	// Complete transitions running -> done and records the result.
	Complete(ctx context.Context, jobID string, attempt int, result Result) error
	// Fail transitions to error with a classified failure.
	Fail(ctx context.Context, jobID string, attempt int, jobErr JobError) error
	// Prune removes terminal jobs last updated before the cutoff and
	// returns the number removed.
	Prune(ctx context.Context, olderThan time.Time) int
}

// ResultCache maps fingerprints to completed results with a TTL.
type ResultCache interface {
	Get(fingerprint string) (Result, bool)
	Put(fingerprint string, result Result, ttl time.Duration)
	Clear()
	Stats() CacheStats
}

// LockCoordinator grants at most one live lease per fingerprint.
type LockCoordinator interface {
	// TryAcquire succeeds iff no unexpired lease exists for the fingerprint.
	TryAcquire(fingerprint, owner string) bool
	// Release drops the lease if the caller still owns it.
	Release(fingerprint, owner string)
}

// Queue hands admitted work to the pipeline workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Scraper fetches the raw page for a URL submission.
type Scraper interface {
	Fetch(ctx context.Context, url string) (RawContent, error)
}

// Cleaner reduces raw content to model-ready text.
type Cleaner interface {
	CleanHTML(raw RawContent) (string, error)
	CleanText(text string) string
}

// Transformer rewrites text in the named persona's voice.
type Transformer interface {
	Apply(ctx context.Context, text, persona string) (string, string, error)
}

// PersonaDirectory validates persona names on the admission path.
type PersonaDirectory interface {
	Exists(name string) bool
}

// UsageGate enforces membership-tier quotas before work is scheduled.
type UsageGate interface {
	CheckAndReserve(ctx context.Context, userID string) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Archive writes a durable row for each completed transformation.
type Archive interface {
	SaveTransformation(ctx context.Context, rec ArchiveRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
