// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level reel configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Ingest    IngestConfig              `mapstructure:"ingest"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Retry     RetryConfig               `mapstructure:"retry"`
	Progress  ProgressConfig            `mapstructure:"progress"`
	Security  SecurityConfig            `mapstructure:"security"`
	Log       LogConfig                 `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	AuthTokens     []string      `mapstructure:"auth_tokens"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// StorageConfig selects the registry and index backends.
type StorageConfig struct {
	DataDir string      `mapstructure:"data_dir"`
	Videos  string      `mapstructure:"videos"`
	Index   IndexConfig `mapstructure:"index"`
}

// IndexConfig selects and configures the semantic index backend.
type IndexConfig struct {
	Backend    string         `mapstructure:"backend"`
	Dimensions int            `mapstructure:"dimensions"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	Milvus     MilvusConfig   `mapstructure:"milvus"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
}

// ProviderConfig holds credentials and endpoint for a model provider.
type ProviderConfig struct {
	APIKey          string `mapstructure:"api_key"`
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ModelsConfig maps each collaborator role to a "provider/model" reference.
// An empty transcriber disables the audio pass.
type ModelsConfig struct {
	Describer   string `mapstructure:"describer"`
	Embedder    string `mapstructure:"embedder"`
	Synthesizer string `mapstructure:"synthesizer"`
	Transcriber string `mapstructure:"transcriber"`
}

// IngestConfig controls sampling and batching.
type IngestConfig struct {
	FrameInterval   float64       `mapstructure:"frame_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	AudioEnabled    bool          `mapstructure:"audio_enabled"`
	AudioWindow     time.Duration `mapstructure:"audio_window"`
	AudioWorkers    int           `mapstructure:"audio_workers"`
	ThumbnailWidth  int           `mapstructure:"thumbnail_width"`
	ThumbnailHeight int           `mapstructure:"thumbnail_height"`
	FFmpeg          string        `mapstructure:"ffmpeg"`
	FFprobe         string        `mapstructure:"ffprobe"`
}

// RetrievalConfig controls answer and global search defaults.
type RetrievalConfig struct {
	TopK           int           `mapstructure:"top_k"`
	GlobalTopK     int           `mapstructure:"global_top_k"`
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
	SummaryContext int           `mapstructure:"summary_context"`
}

// RetryConfig is the bounded retry policy applied to every external call.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type ProgressConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig enables the cross-process progress relay when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type SecurityConfig struct {
	Scanner ScannerConfig `mapstructure:"scanner"`
}

// ScannerConfig sets the scanner mode for each text path: off, flag,
// redact or block.
type ScannerConfig struct {
	Questions    string `mapstructure:"questions"`
	Observations string `mapstructure:"observations"`
	Answers      string `mapstructure:"answers"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8420")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.max_upload_bytes", int64(4)<<30)

	v.SetDefault("storage.data_dir", "~/.reel")
	v.SetDefault("storage.videos", "sqlite")
	v.SetDefault("storage.index.backend", "sqlite")
	v.SetDefault("storage.index.dimensions", 1024)
	v.SetDefault("storage.index.milvus.collection", "reel_observations")

	v.SetDefault("models.describer", "openai/gpt-4o-mini")
	v.SetDefault("models.embedder", "openai/text-embedding-3-small")
	v.SetDefault("models.synthesizer", "openai/gpt-4o-mini")
	v.SetDefault("models.transcriber", "whisper/whisper-1")

	v.SetDefault("ingest.frame_interval", 1.0)
	v.SetDefault("ingest.batch_size", 5)
	v.SetDefault("ingest.audio_enabled", true)
	v.SetDefault("ingest.audio_window", 10*time.Second)
	v.SetDefault("ingest.audio_workers", 4)
	v.SetDefault("ingest.thumbnail_width", 320)
	v.SetDefault("ingest.thumbnail_height", 180)
	v.SetDefault("ingest.ffmpeg", "ffmpeg")
	v.SetDefault("ingest.ffprobe", "ffprobe")

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.global_top_k", 20)
	v.SetDefault("retrieval.dedup_window", 30*time.Second)
	v.SetDefault("retrieval.summary_context", 10)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.timeout", 120*time.Second)
	v.SetDefault("retry.backoff", time.Second)

	v.SetDefault("progress.redis.channel", "reel:progress")

	v.SetDefault("security.scanner.questions", "flag")
	v.SetDefault("security.scanner.observations", "redact")
	v.SetDefault("security.scanner.answers", "redact")

	v.SetDefault("log.format", "text")
}

// SetupEnv binds REEL_-prefixed environment variables (REEL_SERVER_LISTEN, ...).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("REEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix REEL_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, reelerr.Errorf(reelerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, reelerr.Errorf(reelerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validateScanner()...)

	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, invalid("config: log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		return append(errs, invalid("config: server.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, invalid("config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, invalid("config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, invalid("config: server.listen port must be between 1 and 65535, got %d", port))
	}

	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, invalid("config: server.rate_limit_rps must not be negative, got %g", c.Server.RateLimitRPS))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, invalid("config: server.rate_limit_burst must be greater than 0 when rate limiting is enabled, got %d", c.Server.RateLimitBurst))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Videos {
	case "sqlite", "bolt", "memory":
	default:
		errs = append(errs, invalid("config: storage.videos must be one of [sqlite, bolt, memory], got %q", c.Storage.Videos))
	}

	idx := c.Storage.Index
	switch idx.Backend {
	case "sqlite", "memory":
	case "postgres":
		if idx.Postgres.DSN == "" {
			errs = append(errs, invalid("config: storage.index.postgres.dsn is required for the postgres backend"))
		}
	case "milvus":
		if idx.Milvus.Address == "" {
			errs = append(errs, invalid("config: storage.index.milvus.address is required for the milvus backend"))
		}
		if idx.Milvus.Collection == "" {
			errs = append(errs, invalid("config: storage.index.milvus.collection must not be empty"))
		}
	default:
		errs = append(errs, invalid("config: storage.index.backend must be one of [sqlite, postgres, milvus, memory], got %q", idx.Backend))
	}

	if idx.Dimensions <= 0 {
		errs = append(errs, invalid("config: storage.index.dimensions must be greater than 0, got %d", idx.Dimensions))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	refs := []struct {
		key      string
		value    string
		optional bool
	}{
		{"models.describer", c.Models.Describer, false},
		{"models.embedder", c.Models.Embedder, false},
		{"models.synthesizer", c.Models.Synthesizer, false},
		{"models.transcriber", c.Models.Transcriber, true},
	}

	for _, ref := range refs {
		if ref.value == "" {
			if !ref.optional {
				errs = append(errs, invalid("config: %s must not be empty", ref.key))
			}
			continue
		}
		if !strings.Contains(ref.value, "/") {
			errs = append(errs, invalid("config: %s must be in \"provider/model\" format, got %q", ref.key, ref.value))
			continue
		}
		// A nil map means no providers section was configured, which is valid
		// for environment-only setups.
		if c.Providers != nil {
			name, _ := SplitModelRef(ref.value)
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, invalid("config: %s %q references provider %q which is not configured", ref.key, ref.value, name))
			}
		}
	}

	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error

	if c.Ingest.FrameInterval <= 0 {
		errs = append(errs, invalid("config: ingest.frame_interval must be greater than 0, got %g", c.Ingest.FrameInterval))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, invalid("config: ingest.batch_size must be greater than 0, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.AudioEnabled && c.Ingest.AudioWindow <= 0 {
		errs = append(errs, invalid("config: ingest.audio_window must be greater than 0, got %s", c.Ingest.AudioWindow))
	}
	if c.Ingest.ThumbnailWidth <= 0 || c.Ingest.ThumbnailHeight <= 0 {
		errs = append(errs, invalid("config: ingest thumbnail size must be positive, got %dx%d", c.Ingest.ThumbnailWidth, c.Ingest.ThumbnailHeight))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.TopK < 0 {
		errs = append(errs, invalid("config: retrieval.top_k must not be negative, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.GlobalTopK < 0 {
		errs = append(errs, invalid("config: retrieval.global_top_k must not be negative, got %d", c.Retrieval.GlobalTopK))
	}
	if c.Retrieval.DedupWindow <= 0 {
		errs = append(errs, invalid("config: retrieval.dedup_window must be greater than 0, got %s", c.Retrieval.DedupWindow))
	}

	return errs
}

func (c *Config) validateRetry() []error {
	var errs []error

	if c.Retry.Attempts < 1 {
		errs = append(errs, invalid("config: retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if c.Retry.Timeout <= 0 {
		errs = append(errs, invalid("config: retry.timeout must be greater than 0, got %s", c.Retry.Timeout))
	}
	if c.Retry.Backoff < 0 {
		errs = append(errs, invalid("config: retry.backoff must not be negative, got %s", c.Retry.Backoff))
	}

	return errs
}

var scannerModes = []string{"off", "flag", "redact", "block"}

func (c *Config) validateScanner() []error {
	var errs []error

	for _, f := range []struct{ key, value string }{
		{"security.scanner.questions", c.Security.Scanner.Questions},
		{"security.scanner.observations", c.Security.Scanner.Observations},
		{"security.scanner.answers", c.Security.Scanner.Answers},
	} {
		if !slices.Contains(scannerModes, f.value) {
			errs = append(errs, invalid("config: %s must be one of %v, got %q", f.key, scannerModes, f.value))
		}
	}

	return errs
}

// SplitModelRef splits "provider/model" into its parts.
func SplitModelRef(ref string) (provider, model string) {
	if idx := strings.Index(ref, "/"); idx > 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

func invalid(format string, args ...any) error {
	return reelerr.Errorf(reelerr.CodeConfigValidateInvalidValue, format, args...)
}
