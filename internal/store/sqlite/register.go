// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"path/filepath"

	"github.com/sigil-dev/reel/internal/store"
)

func init() {
	store.RegisterIndexBackend("sqlite", func(_ context.Context, cfg store.IndexConfig) (store.Index, error) {
		return NewIndex(filepath.Join(cfg.DataDir, "index.db"))
	})
	store.RegisterVideoBackend("sqlite", func(_ context.Context, cfg store.VideoConfig) (store.VideoStore, error) {
		return NewVideoStore(filepath.Join(cfg.DataDir, "videos.db"))
	})
}
