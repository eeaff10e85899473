// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIndex_Memory(t *testing.T) {
	idx, err := store.OpenIndex(context.Background(), store.IndexConfig{Backend: "memory", Dimensions: 2})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = idx.Insert(context.Background(), "s", []store.Observation{{Embedding: []float32{1, 0}}})
	require.NoError(t, err)
	assert.Contains(t, store.IndexBackends(), "memory")
}

func TestOpenIndex_UnknownBackend(t *testing.T) {
	_, err := store.OpenIndex(context.Background(), store.IndexConfig{Backend: "faiss"})
	require.Error(t, err)
	assert.True(t, reelerr.HasCode(err, reelerr.CodeStoreBackendUnsupported))
}

func TestOpenVideoStore_UnknownBackend(t *testing.T) {
	_, err := store.OpenVideoStore(context.Background(), store.VideoConfig{Backend: "csv"})
	require.Error(t, err)
	assert.True(t, reelerr.HasCode(err, reelerr.CodeStoreBackendUnsupported))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, store.StatusPending.Terminal())
	assert.False(t, store.StatusProcessing.Terminal())
	assert.True(t, store.StatusCompleted.Terminal())
	assert.True(t, store.StatusFailed.Terminal())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Lobby", (&store.VideoRecord{ID: "x", Name: "Lobby", Filename: "a.mp4"}).DisplayName())
	assert.Equal(t, "a.mp4", (&store.VideoRecord{ID: "x", Filename: "a.mp4"}).DisplayName())
	assert.Equal(t, "x", (&store.VideoRecord{ID: "x"}).DisplayName())
}
