// Package transform defines core types shared across the transformation pipeline.
package transform

import "time"

// Kind distinguishes URL submissions from raw text submissions.
type Kind string

// Request kinds accepted by the admission endpoint.
const (
	KindURL  Kind = "url"
	KindText Kind = "text"
)

// Request is the semantic transformation request: content plus persona.
type Request struct {
	Kind    Kind   `json:"kind"`
	URL     string `json:"url,omitempty"`
	Text    string `json:"text,omitempty"`
	Persona string `json:"persona"`
	UserID  string `json:"user_id,omitempty"`
}

// Status represents the lifecycle state of a transformation job.
type Status string

// Job status values persisted in the job store. The state machine is strictly
// forward: queued -> running -> {done, error}.
const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Stage identifies one step of the pipeline, meaningful while running.
type Stage string

// Pipeline stages in execution order.
const (
	StageScrape Stage = "scrape"
	StageClean  Stage = "clean"
	StageLLM    Stage = "llm"
	StageSave   Stage = "save"
)

var stageOrder = map[Stage]int{
	"":          0,
	StageScrape: 1,
	StageClean:  2,
	StageLLM:    3,
	StageSave:   4,
}

// StageRank returns the position of a stage in pipeline order. Unknown stages
// rank last so the store rejects them as regressions.
func StageRank(s Stage) int {
	if rank, ok := stageOrder[s]; ok {
		return rank
	}
	return len(stageOrder)
}

// ErrorKind classifies pipeline failures for clients.
type ErrorKind string

// Error taxonomy surfaced through the polling contract.
const (
	ErrorKindInvalidRequest ErrorKind = "InvalidRequest"
	ErrorKindUpstreamFetch  ErrorKind = "UpstreamFetchFailed"
	ErrorKindTransform      ErrorKind = "TransformFailed"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindNotFound       ErrorKind = "NotFound"
	ErrorKindInternal       ErrorKind = "Internal"
)

// JobError is the classified failure recorded on a job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Result is the output of a completed transformation.
type Result struct {
	Persona     string    `json:"persona"`
	SourceURL   string    `json:"source_url,omitempty"`
	Content     string    `json:"content"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Job is the lifecycle record for an in-flight or completed fingerprint.
// Attempt fences writers across lock lease handovers: every mutating store
// call carries the attempt it was scheduled with, and the store rejects
// writes from superseded attempts.
type Job struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Status      Status    `json:"status"`
	Stage       Stage     `json:"stage,omitempty"`
	Progress    int       `json:"progress"`
	Attempt     int       `json:"attempt"`
	Request     Request   `json:"request"`
	Result      *Result   `json:"result,omitempty"`
	Error       *JobError `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RawContent is the scraper's output for a URL submission.
type RawContent struct {
	URL         string
	StatusCode  int
	ContentType string
	HTML        []byte
	Duration    time.Duration
}

// QueueItem wraps a job ready for pipeline execution.
type QueueItem struct {
	JobID       string
	Fingerprint string
	Attempt     int
	Request     Request
	Submitted   int64
}

// CacheStats summarizes result cache activity for the admin endpoint.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ArchiveRecord is the durable row written for each completed transformation.
type ArchiveRecord struct {
	Fingerprint string
	JobID       string
	Kind        Kind
	Persona     string
	SourceURL   string
	Content     string
	Model       string
	RawBlobURI  string
	CreatedAt   time.Time
}
