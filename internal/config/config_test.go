package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  enable_admin: true
auth:
  enabled: true
  api_key: secret
transform:
  concurrency: 8
  queue_depth: 256
  cache_ttl_seconds: 1800
  lock_lease_seconds: 90
  max_content_chars: 12000
llm:
  endpoint: https://llm.internal/v1/chat/completions
  model: test-model
  api_key: llm-secret
  temperature: 0.2
scraper:
  user_agent: persona-test-agent
  ignore_robots: true
usage:
  default_monthly_limit: 50
  burst_per_minute: 10
  tier_limits:
    premium: 500
storage:
  archive_provider: postgres
  blob_provider: gcs
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/persona
pubsub:
  project_id: proj
  topic_name: transform-events
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Server.EnableAdmin {
		t.Fatalf("expected server overrides to apply, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Transform.Concurrency != 8 || cfg.Transform.QueueDepth != 256 {
		t.Fatalf("expected transform overrides to apply, got %+v", cfg.Transform)
	}
	if cfg.LLM.Model != "test-model" || cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected llm overrides to apply, got %+v", cfg.LLM)
	}
	if got, want := cfg.Usage.TierLimits["premium"], 500; got != want {
		t.Fatalf("expected tier limit %d, got %d", want, got)
	}
	if got := cfg.CacheTTL(); got != 1800*time.Second {
		t.Fatalf("expected cache ttl 1800s, got %v", got)
	}
	if got := cfg.LockLease(); got != 90*time.Second {
		t.Fatalf("expected lock lease 90s, got %v", got)
	}
	// Defaults still fill unset keys.
	if cfg.Transform.LLMTimeoutSec != 60 {
		t.Fatalf("expected default llm timeout, got %d", cfg.Transform.LLMTimeoutSec)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Transform: TransformConfig{
			Concurrency:      4,
			QueueDepth:       64,
			CacheTTLSeconds:  3600,
			LockLeaseSeconds: 120,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Transform.Concurrency = 0
				return c
			}(),
			want: "transform.concurrency",
		},
		{
			name: "invalid queue depth",
			cfg: func() Config {
				c := base
				c.Transform.QueueDepth = 0
				return c
			}(),
			want: "transform.queue_depth",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Storage.ArchiveProvider = "postgres"
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.BlobProvider = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "events"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
