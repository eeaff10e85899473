// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"

	"github.com/sigil-dev/reel/internal/library"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// IngestService starts and stops background ingestion runs.
type IngestService interface {
	Start(ctx context.Context, scope string) error
	StartAudio(ctx context.Context, scope string) error
	Stop(ctx context.Context, scope string) error
	Running(scope string) bool
}

// QueryService answers questions over the index.
type QueryService interface {
	Answer(ctx context.Context, scope, question string, topK int) retrieval.Answer
	GlobalSearch(ctx context.Context, question string, topK int, summarize bool) retrieval.GlobalResult
}

// MediaService inspects uploaded files.
type MediaService = library.Media

// ProviderService reports model provider health.
type ProviderService interface {
	Statuses(ctx context.Context) []provider.ProviderStatus
}

// Services holds dependencies injected into route handlers.
// Each field is an interface so subsystems can be mocked in tests.
type Services struct {
	Videos   store.VideoStore
	Index    store.Index
	Ingest   IngestService
	Query    QueryService
	Media    MediaService
	Progress *progress.Broadcaster
	// Providers is optional; nil serves an empty provider list.
	Providers ProviderService
	// DataDir holds uploaded videos and thumbnails.
	DataDir string
}

func (s *Services) validate() error {
	switch {
	case s == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "services are required")
	case s.Videos == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "video store is required")
	case s.Index == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "index is required")
	case s.Ingest == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "ingest service is required")
	case s.Query == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "query service is required")
	case s.Media == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "media service is required")
	case s.Progress == nil:
		return reelerr.New(reelerr.CodeServerConfigInvalid, "progress broadcaster is required")
	case s.DataDir == "":
		return reelerr.New(reelerr.CodeServerConfigInvalid, "data directory is required")
	}
	return nil
}

// VideoDir is where uploads are stored under dataDir.
func VideoDir(dataDir string) string { return library.VideoDir(dataDir) }

// ThumbnailFile is the thumbnail path for scope under dataDir.
func ThumbnailFile(dataDir, scope string) string { return library.ThumbnailFile(dataDir, scope) }
