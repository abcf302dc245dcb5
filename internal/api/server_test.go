package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cachemem "github.com/sjkd23/PagePersona-sub002/internal/cache/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/config"
	lockmem "github.com/sjkd23/PagePersona-sub002/internal/lock/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/persona"
	storemem "github.com/sjkd23/PagePersona-sub002/internal/storage/memory"
	"github.com/sjkd23/PagePersona-sub002/internal/transform"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type captureScheduler struct {
	mu    sync.Mutex
	items []transform.QueueItem
}

func (s *captureScheduler) Enqueue(_ context.Context, item transform.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *captureScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type testEnv struct {
	server    *Server
	jobs      *storemem.JobStore
	cache     *cachemem.Cache
	scheduler *captureScheduler
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	clock := realClock{}
	cache := cachemem.NewCache(clock, cachemem.Options{})
	t.Cleanup(cache.Close)

	env := &testEnv{
		jobs:      storemem.NewJobStore(clock),
		cache:     cache,
		scheduler: &captureScheduler{},
	}
	registry := persona.NewRegistry()
	svc := transform.NewService(
		env.jobs, env.cache, lockmem.NewCoordinator(time.Minute, clock),
		env.scheduler, nil, registry,
		transform.ServiceConfig{EnqueueTimeout: time.Second},
		nil,
	)
	env.server = NewServer(svc, registry, cfg, nil)
	return env
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitURLAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodPost, "/v1/transform",
		`{"url":"https://example.com/post","persona":"pirate"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Cached bool   `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, "queued", resp.Status)
	require.False(t, resp.Cached)
	require.Equal(t, 1, env.scheduler.count())

	// The polling endpoint sees the queued job immediately.
	poll := doJSON(t, env.server.Handler(), http.MethodGet, "/v1/transform/jobs/"+resp.JobID, "")
	require.Equal(t, http.StatusOK, poll.Code)
	var job struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(poll.Body.Bytes(), &job))
	require.Equal(t, "queued", job.Status)
	require.Equal(t, 0, job.Progress)
}

func TestSubmitTextAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodPost, "/v1/transform/text",
		`{"text":"some plain words","persona":"scholar"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, env.scheduler.count())
}

func TestSubmitValidationErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/transform", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/transform",
		`{"url":"https://example.com","persona":"villain"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/transform/text",
		`{"text":"","persona":"pirate"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, env.scheduler.count())
}

func TestSubmitReturnsCachedResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	fp := transform.Fingerprint(transform.KindURL,
		transform.NormalizeURL("https://example.com/post"), "pirate")
	env.cache.Put(fp, transform.Result{
		Persona: "pirate",
		Content: "yo ho ho",
		Model:   "gpt-4o-mini",
	}, time.Hour)

	rec := doJSON(t, env.server.Handler(), http.MethodPost, "/v1/transform",
		`{"url":"https://example.com/post","persona":"pirate"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Cached bool   `json:"cached"`
		Result struct {
			Content string `json:"content"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "done", resp.Status)
	require.True(t, resp.Cached)
	require.Equal(t, "yo ho ho", resp.Result.Content)
	require.Equal(t, 0, env.scheduler.count())
}

func TestGetUnknownJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/v1/transform/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPersonas(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/v1/transform/personas", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Personas []struct {
			Name  string `json:"name"`
			Label string `json:"label"`
		} `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Personas)
	names := make([]string, 0, len(resp.Personas))
	for _, p := range resp.Personas {
		names = append(names, p.Name)
	}
	require.Contains(t, names, "pirate")
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekrit"
	env := newTestEnv(t, cfg)
	h := env.server.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/transform/personas", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/transform/personas", nil)
	req.Header.Set("X-API-Key", "sekrit")
	got := httptest.NewRecorder()
	h.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	// Health stays open for probes.
	rec = doJSON(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutesAreOptIn(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/v1/admin/cache/stats", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	cfg := config.Config{}
	cfg.Server.EnableAdmin = true
	env = newTestEnv(t, cfg)
	h := env.server.Handler()

	env.cache.Put("fp", transform.Result{Content: "x"}, time.Hour)
	rec = doJSON(t, h, http.MethodGet, "/v1/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats transform.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Entries)

	rec = doJSON(t, h, http.MethodDelete, "/v1/admin/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/admin/cache/stats", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 0, stats.Entries)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	h := env.server.Handler()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := doJSON(t, env.server.Handler(), http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
