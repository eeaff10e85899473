// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigil-dev/reel/internal/config"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8420", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Videos)
	assert.Equal(t, "sqlite", cfg.Storage.Index.Backend)
	assert.Equal(t, 1024, cfg.Storage.Index.Dimensions)
	assert.InDelta(t, 1.0, cfg.Ingest.FrameInterval, 1e-9)
	assert.Equal(t, 5, cfg.Ingest.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Ingest.AudioWindow)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 20, cfg.Retrieval.GlobalTopK)
	assert.Equal(t, 30*time.Second, cfg.Retrieval.DedupWindow)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 120*time.Second, cfg.Retry.Timeout)
	assert.Equal(t, config.ScannerConfig{Questions: "flag", Observations: "redact", Answers: "redact"}, cfg.Security.Scanner)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "0.0.0.0:9999"
providers:
  anthropic:
    api_key: "test-key"
  openai:
    api_key: "test-key"
models:
  describer: "anthropic/claude-sonnet-4-5"
  embedder: "openai/text-embedding-3-large"
  synthesizer: "anthropic/claude-sonnet-4-5"
  transcriber: ""
ingest:
  frame_interval: 2.5
  audio_window: 15s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Listen)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.Models.Describer)
	assert.Empty(t, cfg.Models.Transcriber)
	assert.InDelta(t, 2.5, cfg.Ingest.FrameInterval, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Ingest.AudioWindow)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REEL_SERVER_LISTEN", "10.0.0.1:8080")
	t.Setenv("REEL_INGEST_BATCH_SIZE", "12")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, 12, cfg.Ingest.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, reelerr.HasCode(err, reelerr.CodeConfigLoadReadFailure))
}

func TestLoad_InvalidConfigFailsFast(t *testing.T) {
	path := writeConfig(t, `
storage:
  index:
    backend: "faiss"
`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
	assert.Contains(t, err.Error(), "storage.index.backend")
}

// validConfig returns a minimal config that passes all validation.
func validConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Listen: "127.0.0.1:8420"},
		Storage: config.StorageConfig{Videos: "sqlite", Index: config.IndexConfig{Backend: "sqlite", Dimensions: 1024}},
		Providers: map[string]config.ProviderConfig{
			"openai": {APIKey: "test-key"},
		},
		Models: config.ModelsConfig{
			Describer:   "openai/gpt-4o-mini",
			Embedder:    "openai/text-embedding-3-small",
			Synthesizer: "openai/gpt-4o-mini",
		},
		Ingest: config.IngestConfig{
			FrameInterval:   1,
			BatchSize:       5,
			AudioEnabled:    true,
			AudioWindow:     10 * time.Second,
			ThumbnailWidth:  320,
			ThumbnailHeight: 180,
		},
		Retrieval: config.RetrievalConfig{TopK: 5, GlobalTopK: 20, DedupWindow: 30 * time.Second},
		Retry:     config.RetryConfig{Attempts: 3, Timeout: time.Minute, Backoff: time.Second},
		Security: config.SecurityConfig{Scanner: config.ScannerConfig{
			Questions: "flag", Observations: "redact", Answers: "redact",
		}},
		Log: config.LogConfig{Format: "text"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantKey string
	}{
		{"empty listen", func(c *config.Config) { c.Server.Listen = "" }, "server.listen"},
		{"bad listen", func(c *config.Config) { c.Server.Listen = "not-an-addr" }, "server.listen"},
		{"port out of range", func(c *config.Config) { c.Server.Listen = "127.0.0.1:70000" }, "between 1 and 65535"},
		{"burst without rps", func(c *config.Config) { c.Server.RateLimitRPS = 5 }, "rate_limit_burst"},
		{"unknown videos backend", func(c *config.Config) { c.Storage.Videos = "json" }, "storage.videos"},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Index.Backend = "postgres" }, "postgres.dsn"},
		{"milvus without address", func(c *config.Config) {
			c.Storage.Index.Backend = "milvus"
			c.Storage.Index.Milvus.Collection = "x"
		}, "milvus.address"},
		{"zero dimensions", func(c *config.Config) { c.Storage.Index.Dimensions = 0 }, "dimensions"},
		{"missing describer", func(c *config.Config) { c.Models.Describer = "" }, "models.describer"},
		{"bad model ref", func(c *config.Config) { c.Models.Embedder = "text-embedding" }, "provider/model"},
		{"unknown provider", func(c *config.Config) { c.Models.Synthesizer = "anthropic/claude" }, "not configured"},
		{"zero interval", func(c *config.Config) { c.Ingest.FrameInterval = 0 }, "frame_interval"},
		{"zero batch", func(c *config.Config) { c.Ingest.BatchSize = 0 }, "batch_size"},
		{"zero audio window", func(c *config.Config) { c.Ingest.AudioWindow = 0 }, "audio_window"},
		{"negative top_k", func(c *config.Config) { c.Retrieval.TopK = -1 }, "retrieval.top_k"},
		{"zero dedup window", func(c *config.Config) { c.Retrieval.DedupWindow = 0 }, "dedup_window"},
		{"zero attempts", func(c *config.Config) { c.Retry.Attempts = 0 }, "retry.attempts"},
		{"unknown scanner mode", func(c *config.Config) { c.Security.Scanner.Observations = "warn" }, "security.scanner.observations"},
		{"empty scanner mode", func(c *config.Config) { c.Security.Scanner.Answers = "" }, "security.scanner.answers"},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantKey)
			assert.True(t, reelerr.IsInvalidInput(errs[0]))
		})
	}
}

func TestValidate_TranscriberOptional(t *testing.T) {
	cfg := validConfig()
	cfg.Models.Transcriber = ""
	assert.Empty(t, cfg.Validate())
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &config.Config{}
	errs := cfg.Validate()
	assert.GreaterOrEqual(t, len(errs), 5, "expected validation to collect every problem, got %v", errs)
}

func TestSplitModelRef(t *testing.T) {
	p, m := config.SplitModelRef("openai/gpt-4o-mini")
	assert.Equal(t, "openai", p)
	assert.Equal(t, "gpt-4o-mini", m)

	p, m = config.SplitModelRef("ollama/library/llava:13b")
	assert.Equal(t, "ollama", p)
	assert.Equal(t, "library/llava:13b", m)

	p, m = config.SplitModelRef("bare")
	assert.Equal(t, "bare", p)
	assert.Empty(t, m)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".reel"), config.ExpandHome("~/.reel"))
	assert.Equal(t, "/var/lib/reel", config.ExpandHome("/var/lib/reel"))
}

func TestDefaultConfigYAMLLoads(t *testing.T) {
	path := writeConfig(t, string(config.DefaultConfigYAML))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "whisper/whisper-1", cfg.Models.Transcriber)
}
