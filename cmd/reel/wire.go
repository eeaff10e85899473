// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/sigil-dev/reel/internal/config"
	"github.com/sigil-dev/reel/internal/ingest"
	"github.com/sigil-dev/reel/internal/library"
	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/security/scanner"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"

	_ "github.com/sigil-dev/reel/internal/provider/anthropic" // register provider factories
	_ "github.com/sigil-dev/reel/internal/provider/gcpspeech"
	_ "github.com/sigil-dev/reel/internal/provider/google"
	_ "github.com/sigil-dev/reel/internal/provider/openai"
	_ "github.com/sigil-dev/reel/internal/provider/whisper"
	_ "github.com/sigil-dev/reel/internal/store/bolt" // register storage backends
	_ "github.com/sigil-dev/reel/internal/store/milvus"
	_ "github.com/sigil-dev/reel/internal/store/postgres"
	_ "github.com/sigil-dev/reel/internal/store/sqlite"
)

// newDecoder builds the media decoder. Declared as a variable so tests can
// run without ffmpeg.
var newDecoder = func(cfg config.IngestConfig) (media.Decoder, error) {
	return media.NewFFmpeg(cfg.FFmpeg, cfg.FFprobe)
}

// Stores is the persistent state every command needs.
type Stores struct {
	DataDir string
	Videos  store.VideoStore
	Index   store.Index
}

// OpenStores creates the data directory and opens the registry and index.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	dataDir := config.ExpandHome(cfg.Storage.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, reelerr.Errorf(reelerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	videos, err := store.OpenVideoStore(ctx, store.VideoConfig{Backend: cfg.Storage.Videos, DataDir: dataDir})
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "opening video registry")
	}

	ic := cfg.Storage.Index
	index, err := store.OpenIndex(ctx, store.IndexConfig{
		Backend:          ic.Backend,
		Dimensions:       ic.Dimensions,
		DataDir:          dataDir,
		PostgresDSN:      ic.Postgres.DSN,
		MilvusAddress:    ic.Milvus.Address,
		MilvusUsername:   ic.Milvus.Username,
		MilvusPassword:   ic.Milvus.Password,
		MilvusAPIKey:     ic.Milvus.APIKey,
		MilvusCollection: ic.Milvus.Collection,
	})
	if err != nil {
		_ = videos.Close()
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "opening index")
	}

	return &Stores{DataDir: dataDir, Videos: videos, Index: index}, nil
}

// Close releases the registry and index.
func (s *Stores) Close() error {
	return errors.Join(s.Index.Close(), s.Videos.Close())
}

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	*Stores
	Config    *config.Config
	Providers *provider.Registry
	Sampler   *media.Sampler
	Events    *progress.Broadcaster
	// Relay is nil unless progress.redis.addr is configured.
	Relay    *progress.Relay
	Pipeline *ingest.Pipeline
	Engine   *retrieval.Engine
	Library  *library.Library
}

// WireApp creates all subsystems and wires them together.
func WireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Stores: stores, Config: cfg, Events: progress.NewBroadcaster()}

	app.Providers = provider.NewRegistry(provider.RetryPolicy{
		Attempts: cfg.Retry.Attempts,
		Timeout:  cfg.Retry.Timeout,
		Backoff:  cfg.Retry.Backoff,
	})
	openProviders(ctx, cfg, app.Providers)

	describer, err := app.Providers.Describer(cfg.Models.Describer)
	if err != nil {
		_ = app.Close()
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "describer %s", cfg.Models.Describer)
	}
	embedder, err := app.Providers.Embedder(cfg.Models.Embedder)
	if err != nil {
		_ = app.Close()
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "embedder %s", cfg.Models.Embedder)
	}
	synth, err := app.Providers.Synthesizer(cfg.Models.Synthesizer)
	if err != nil {
		_ = app.Close()
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "synthesizer %s", cfg.Models.Synthesizer)
	}
	var transcriber provider.Transcriber
	if cfg.Ingest.AudioEnabled && cfg.Models.Transcriber != "" {
		transcriber, err = app.Providers.Transcriber(cfg.Models.Transcriber)
		if err != nil {
			slog.Warn("audio transcription disabled", "transcriber", cfg.Models.Transcriber, "error", err)
			transcriber = nil
		}
	}

	dec, err := newDecoder(cfg.Ingest)
	if err != nil {
		_ = app.Close()
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "media decoder")
	}
	app.Sampler = media.NewSampler(dec)

	guard, err := newScanGuard(cfg.Security.Scanner)
	if err != nil {
		_ = app.Close()
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "content scanner")
	}

	var events progress.Publisher = app.Events
	if addr := cfg.Progress.Redis.Addr; addr != "" {
		app.Relay = progress.NewRedisRelay(app.Events, progress.RedisOptions{
			Addr:     addr,
			Password: cfg.Progress.Redis.Password,
			DB:       cfg.Progress.Redis.DB,
			Channel:  cfg.Progress.Redis.Channel,
		})
		events = app.Relay
	}

	app.Pipeline, err = ingest.New(ingest.Deps{
		Videos:      stores.Videos,
		Index:       stores.Index,
		Sampler:     app.Sampler,
		Describer:   describer,
		Embedder:    embedder,
		Transcriber: transcriber,
		Events:      events,
		Scanner:     guard,
	}, ingest.Config{
		FrameInterval: cfg.Ingest.FrameInterval,
		BatchSize:     cfg.Ingest.BatchSize,
		AudioEnabled:  cfg.Ingest.AudioEnabled,
		AudioWindow:   cfg.Ingest.AudioWindow,
		AudioWorkers:  cfg.Ingest.AudioWorkers,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Engine, err = retrieval.New(stores.Index, stores.Videos, embedder, synth, retrieval.Config{
		TopK:           cfg.Retrieval.TopK,
		GlobalTopK:     cfg.Retrieval.GlobalTopK,
		DedupWindow:    cfg.Retrieval.DedupWindow,
		SummaryContext: cfg.Retrieval.SummaryContext,
		Scanner:        guard,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Library = &library.Library{
		Videos:          stores.Videos,
		Index:           stores.Index,
		Media:           app.Sampler,
		DataDir:         stores.DataDir,
		ThumbnailWidth:  cfg.Ingest.ThumbnailWidth,
		ThumbnailHeight: cfg.Ingest.ThumbnailHeight,
	}
	return app, nil
}

// newScanGuard builds the content scanner from config. Modes are
// validated by config.Validate.
func newScanGuard(cfg config.ScannerConfig) (*scanner.Guard, error) {
	return scanner.NewGuard(nil, scanner.Policy{
		scanner.StageQuestion:    scanner.Mode(cfg.Questions),
		scanner.StageObservation: scanner.Mode(cfg.Observations),
		scanner.StageAnswer:      scanner.Mode(cfg.Answers),
	})
}

// Close releases all resources held by the app.
func (a *App) Close() error {
	var errs []error
	if a.Relay != nil {
		errs = append(errs, a.Relay.Close())
	}
	if a.Providers != nil {
		errs = append(errs, a.Providers.Close())
	}
	errs = append(errs, a.Stores.Close())
	return errors.Join(errs...)
}

// openProviders registers every configured provider that has credentials.
// Neither unknown names nor missing keys are fatal at startup; a role that
// needs such a provider fails when it is looked up.
func openProviders(ctx context.Context, cfg *config.Config, reg *provider.Registry) {
	for name, pc := range cfg.Providers {
		if pc.APIKey == "" && pc.CredentialsFile == "" && pc.Endpoint == "" {
			slog.Warn("skipping provider without credentials", "provider", name)
			continue
		}
		err := reg.Open(ctx, provider.Settings{
			Name:            name,
			APIKey:          pc.APIKey,
			Endpoint:        pc.Endpoint,
			CredentialsFile: pc.CredentialsFile,
			Dimensions:      cfg.Storage.Index.Dimensions,
		})
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		slog.Debug("registered provider", "provider", name)
	}
}
