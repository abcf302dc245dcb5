// Package worker implements the transformation pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjkd23/PagePersona-sub002/internal/metrics"
	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

// Config controls Worker behavior.
type Config struct {
	ScrapeTimeout time.Duration
	LLMTimeout    time.Duration
	CacheTTL      time.Duration
	Topic         string
	BlobPrefix    string
	ContentType   string
}

// Worker consumes queue items and executes the transformation pipeline:
// scrape -> clean -> llm -> save. It is the sole writer of job state for the
// fingerprints it holds the lock on, and the sole writer of the matching
// cache entries.
type Worker struct {
	queue       transform.Queue
	jobs        transform.JobStore
	cache       transform.ResultCache
	locks       transform.LockCoordinator
	scraper     transform.Scraper
	cleaner     transform.Cleaner
	transformer transform.Transformer
	publisher   transform.Publisher
	blobs       transform.BlobStore
	archive     transform.Archive
	clock       transform.Clock
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Worker.
func New(
	queue transform.Queue,
	jobs transform.JobStore,
	cache transform.ResultCache,
	locks transform.LockCoordinator,
	scraper transform.Scraper,
	cleaner transform.Cleaner,
	transformer transform.Transformer,
	publisher transform.Publisher,
	blobs transform.BlobStore,
	archive transform.Archive,
	clock transform.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Worker{
		queue:       queue,
		jobs:        jobs,
		cache:       cache,
		locks:       locks,
		scraper:     scraper,
		cleaner:     cleaner,
		transformer: transformer,
		publisher:   publisher,
		blobs:       blobs,
		archive:     archive,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run blocks, consuming queue items until the context finishes. The worker's
// context is the service's lifetime, never an HTTP request's: a polling
// client that disconnects does not cancel the pipeline.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item transform.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	owner := transform.LockOwner(item.JobID, item.Attempt)
	defer w.locks.Release(item.Fingerprint, owner)

	initial := transform.StageScrape
	if item.Request.Kind == transform.KindText {
		initial = transform.StageClean
	}
	if err := w.jobs.Start(ctx, item.JobID, item.Attempt, initial); err != nil {
		w.logger.Warn("job start rejected",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt),
			zap.Error(err),
		)
		return
	}

	result, stage, err := w.execute(ctx, item)
	if err != nil {
		w.fail(ctx, item, stage, err)
		return
	}

	// Complete is fenced by the attempt counter; only the surviving worker
	// after a lease handover gets to publish the result and fill the cache.
	if err := w.jobs.Complete(ctx, item.JobID, item.Attempt, result); err != nil {
		w.logger.Warn("job complete rejected",
			zap.String("job_id", item.JobID),
			zap.Int("attempt", item.Attempt),
			zap.Error(err),
		)
		return
	}
	w.cache.Put(item.Fingerprint, result, w.cfg.CacheTTL)
	metrics.ObserveJob(string(transform.StatusDone))
	w.publishCompletion(ctx, item, result)
	w.logger.Info("job completed",
		zap.String("job_id", item.JobID),
		zap.String("persona", item.Request.Persona),
		zap.String("kind", string(item.Request.Kind)),
	)
}

func (w *Worker) execute(ctx context.Context, item transform.QueueItem) (transform.Result, transform.Stage, error) {
	req := item.Request
	var cleaned string
	var rawURI string

	if req.Kind == transform.KindURL {
		if err := w.advance(ctx, item, transform.StageScrape, 10); err != nil {
			return transform.Result{}, transform.StageScrape, err
		}
		raw, err := w.scrape(ctx, req.URL)
		if err != nil {
			return transform.Result{}, transform.StageScrape, err
		}
		rawURI = w.archiveRaw(ctx, item, raw)

		if err := w.advance(ctx, item, transform.StageClean, 40); err != nil {
			return transform.Result{}, transform.StageClean, err
		}
		cleaned, err = w.cleaner.CleanHTML(raw)
		if err != nil {
			return transform.Result{}, transform.StageClean, err
		}
	} else {
		if err := w.advance(ctx, item, transform.StageClean, 40); err != nil {
			return transform.Result{}, transform.StageClean, err
		}
		cleaned = w.cleaner.CleanText(req.Text)
	}
	if strings.TrimSpace(cleaned) == "" {
		return transform.Result{}, transform.StageClean, errors.New("no readable content extracted")
	}

	if err := w.advance(ctx, item, transform.StageLLM, 55); err != nil {
		return transform.Result{}, transform.StageLLM, err
	}
	content, model, err := w.applyLLM(ctx, cleaned, req.Persona)
	if err != nil {
		return transform.Result{}, transform.StageLLM, err
	}

	if err := w.advance(ctx, item, transform.StageSave, 90); err != nil {
		return transform.Result{}, transform.StageSave, err
	}
	result := transform.Result{
		Persona:     req.Persona,
		SourceURL:   req.URL,
		Content:     content,
		Model:       model,
		GeneratedAt: w.clock.Now(),
	}
	w.archiveRow(ctx, item, result, rawURI)
	return result, transform.StageSave, nil
}

func (w *Worker) scrape(ctx context.Context, url string) (transform.RawContent, error) {
	start := w.clock.Now()
	defer func() { metrics.ObserveStage(string(transform.StageScrape), w.clock.Now().Sub(start)) }()

	sctx := ctx
	if w.cfg.ScrapeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, w.cfg.ScrapeTimeout)
		defer cancel()
	}
	raw, err := w.scraper.Fetch(sctx, url)
	if err != nil {
		return transform.RawContent{}, fmt.Errorf("scrape %s: %w", url, err)
	}
	return raw, nil
}

func (w *Worker) applyLLM(ctx context.Context, text, persona string) (string, string, error) {
	start := w.clock.Now()
	defer func() { metrics.ObserveStage(string(transform.StageLLM), w.clock.Now().Sub(start)) }()

	tctx := ctx
	if w.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, w.cfg.LLMTimeout)
		defer cancel()
	}
	content, model, err := w.transformer.Apply(tctx, text, persona)
	if err != nil {
		return "", "", fmt.Errorf("transform with persona %s: %w", persona, err)
	}
	return content, model, nil
}

func (w *Worker) advance(ctx context.Context, item transform.QueueItem, stage transform.Stage, progress int) error {
	if err := w.jobs.UpdateProgress(ctx, item.JobID, item.Attempt, stage, progress); err != nil {
		return fmt.Errorf("advance to %s: %w", stage, err)
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, item transform.QueueItem, stage transform.Stage, err error) {
	jobErr := classify(stage, err)
	w.logger.Error("pipeline stage failed",
		zap.String("job_id", item.JobID),
		zap.String("stage", string(stage)),
		zap.String("kind", string(jobErr.Kind)),
		zap.Error(err),
	)
	// A superseded attempt must not overwrite its successor's state.
	if errors.Is(err, transform.ErrStaleAttempt) {
		return
	}
	if failErr := w.jobs.Fail(ctx, item.JobID, item.Attempt, jobErr); failErr != nil {
		w.logger.Warn("job fail rejected", zap.String("job_id", item.JobID), zap.Error(failErr))
		return
	}
	metrics.ObserveJob(string(transform.StatusError))
}

func classify(stage transform.Stage, err error) transform.JobError {
	kind := transform.ErrorKindInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = transform.ErrorKindTimeout
	case stage == transform.StageScrape || stage == transform.StageClean:
		kind = transform.ErrorKindUpstreamFetch
	case stage == transform.StageLLM:
		kind = transform.ErrorKindTransform
	}
	return transform.JobError{Kind: kind, Message: err.Error()}
}

func (w *Worker) buildBlobPath(item transform.QueueItem) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%d.html", item.JobID, item.Attempt)
	}
	return fmt.Sprintf("%s/%s/%d.html", prefix, item.JobID, item.Attempt)
}

// archiveRaw stores the scraped page for audit. Failures are logged, never
// fatal: the archive is an observability aid, not part of the contract.
func (w *Worker) archiveRaw(ctx context.Context, item transform.QueueItem, raw transform.RawContent) string {
	if w.blobs == nil {
		return ""
	}
	uri, err := w.blobs.PutObject(ctx, w.buildBlobPath(item), w.cfg.ContentType, raw.HTML)
	if err != nil {
		w.logger.Warn("raw content archive failed", zap.String("job_id", item.JobID), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) archiveRow(ctx context.Context, item transform.QueueItem, result transform.Result, rawURI string) {
	if w.archive == nil {
		return
	}
	rec := transform.ArchiveRecord{
		Fingerprint: item.Fingerprint,
		JobID:       item.JobID,
		Kind:        item.Request.Kind,
		Persona:     result.Persona,
		SourceURL:   result.SourceURL,
		Content:     result.Content,
		Model:       result.Model,
		RawBlobURI:  rawURI,
		CreatedAt:   result.GeneratedAt,
	}
	if err := w.archive.SaveTransformation(ctx, rec); err != nil {
		w.logger.Warn("transformation archive failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

func (w *Worker) publishCompletion(ctx context.Context, item transform.QueueItem, result transform.Result) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":      item.JobID,
		"fingerprint": item.Fingerprint,
		"persona":     result.Persona,
		"kind":        string(item.Request.Kind),
		"model":       result.Model,
		"timestamp":   result.GeneratedAt.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("completion publish failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	w.logger.Info("completion published",
		zap.String("job_id", item.JobID),
		zap.String("persona", result.Persona),
	)
}
