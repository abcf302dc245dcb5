// Package main wires together the persona transformation service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/sjkd23/PagePersona-sub002/internal/api"
	cachememory "github.com/sjkd23/PagePersona-sub002/internal/cache/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/cleaner"
	"github.com/sjkd23/PagePersona-sub002/internal/clock/system"
	"github.com/sjkd23/PagePersona-sub002/internal/config"
	"github.com/sjkd23/PagePersona-sub002/internal/dispatcher"
	"github.com/sjkd23/PagePersona-sub002/internal/llm"
	lockmemory "github.com/sjkd23/PagePersona-sub002/internal/lock/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/logging"
	"github.com/sjkd23/PagePersona-sub002/internal/metrics"
	"github.com/sjkd23/PagePersona-sub002/internal/persona"
	memorypublisher "github.com/sjkd23/PagePersona-sub002/internal/publisher/memory"
	pubsubpublisher "github.com/sjkd23/PagePersona-sub002/internal/publisher/pubsub"
	queuememory "github.com/sjkd23/PagePersona-sub002/internal/queue/memory"
	collyscraper "github.com/sjkd23/PagePersona-sub002/internal/scraper/colly"
	"github.com/sjkd23/PagePersona-sub002/internal/storage/gcs"
	"github.com/sjkd23/PagePersona-sub002/internal/storage/local"
	memorystorage "github.com/sjkd23/PagePersona-sub002/internal/storage/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/storage/postgres"
	"github.com/sjkd23/PagePersona-sub002/internal/transform"
	"github.com/sjkd23/PagePersona-sub002/internal/usage"
	"github.com/sjkd23/PagePersona-sub002/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	jobStore := memorystorage.NewJobStore(clock)
	cache := cachememory.NewCache(clock, cachememory.Options{
		MaxEntries: cfg.Transform.CacheMaxEntries,
	})
	defer cache.Close()
	locks := lockmemory.NewCoordinator(cfg.LockLease(), clock)
	queue := queuememory.NewQueue(cfg.Transform.QueueDepth)
	personas := persona.NewRegistry()
	gate := usage.NewGate(usage.Config{
		DefaultMonthlyLimit: cfg.Usage.DefaultMonthlyLimit,
		TierLimits:          cfg.Usage.TierLimits,
		BurstPerMinute:      cfg.Usage.BurstPerMinute,
	}, clock)

	scraper := collyscraper.New(collyscraper.Config{
		UserAgent:    cfg.Scraper.UserAgent,
		Timeout:      time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		IgnoreRobots: cfg.Scraper.IgnoreRobots,
	}, logger.Named("scraper"))
	clean := cleaner.New(cfg.Transform.MaxContentChars)
	transformer := llm.NewOpenAIClient(llm.Config{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLMTimeout(),
	}, personas)

	var publisher transform.Publisher = memorypublisher.New()
	if cfg.PubSub.TopicName != "" {
		psClient, psErr := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if psErr != nil {
			logger.Warn("pubsub client init failed, events stay in-process", zap.Error(psErr))
		} else {
			defer func() {
				if closeErr := psClient.Close(); closeErr != nil {
					logger.Warn("pubsub client close failed", zap.Error(closeErr))
				}
			}()
			publisher = pubsubpublisher.New(psClient)
		}
	}

	var blobs transform.BlobStore
	switch cfg.Storage.BlobProvider {
	case "memory":
		blobs = memorystorage.NewBlobStore()
	case "local":
		store, localErr := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if localErr != nil {
			logger.Warn("local blob store init failed, raw archive disabled", zap.Error(localErr))
			break
		}
		blobs = store
	case "gcs":
		gcsClient, gcsErr := gcstorage.NewClient(ctx)
		if gcsErr != nil {
			logger.Warn("gcs client init failed, raw archive disabled", zap.Error(gcsErr))
			break
		}
		defer func() {
			if closeErr := gcsClient.Close(); closeErr != nil {
				logger.Warn("gcs client close failed", zap.Error(closeErr))
			}
		}()
		store, storeErr := gcs.New(gcsClient, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if storeErr != nil {
			logger.Warn("gcs blob store init failed, raw archive disabled", zap.Error(storeErr))
			break
		}
		blobs = store
	}

	var archive transform.Archive
	if cfg.Storage.ArchiveProvider == "postgres" {
		store, archErr := postgres.NewArchiveStore(ctx, postgres.ArchiveStoreConfig{
			DSN:   cfg.DB.DSN,
			Table: cfg.Storage.ArchiveTable,
		})
		if archErr != nil {
			logger.Error("postgres archive init failed", zap.Error(archErr))
			os.Exit(1)
		}
		defer store.Close()
		archive = store
	}

	workerCfg := worker.Config{
		ScrapeTimeout: cfg.ScrapeTimeout(),
		LLMTimeout:    cfg.LLMTimeout(),
		CacheTTL:      cfg.CacheTTL(),
		Topic:         cfg.PubSub.TopicName,
		BlobPrefix:    cfg.Storage.Prefix,
		ContentType:   cfg.Storage.ContentType,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Transform.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			cache,
			locks,
			scraper,
			clean,
			transformer,
			publisher,
			blobs,
			archive,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	service := transform.NewService(
		jobStore, cache, locks, dispatch, gate, personas,
		transform.ServiceConfig{EnqueueTimeout: cfg.EnqueueTimeout()},
		logger.Named("service"),
	)
	apiServer := api.NewServer(service, personas, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	go pruneLoop(ctx, jobStore, clock, cfg.JobRetention(), logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

// pruneLoop drops terminal jobs past their retention window so the in-memory
// store stays bounded.
func pruneLoop(ctx context.Context, jobs transform.JobStore, clock transform.Clock, retention time.Duration, logger *zap.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := jobs.Prune(ctx, clock.Now().Add(-retention))
			if removed > 0 {
				logger.Info("pruned terminal jobs", zap.Int("removed", removed))
			}
		}
	}
}
