// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/reel/internal/store"
	"github.com/sigil-dev/reel/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	storetest.RunIndexSuite(t, func(t *testing.T) store.Index {
		idx := store.NewMemoryIndex()
		require.NoError(t, idx.Open(context.Background(), storetest.Dim, store.MetricCosine))
		return idx
	})
}

func TestMemoryVideoStore(t *testing.T) {
	storetest.RunVideoStoreSuite(t, func(*testing.T) store.VideoStore {
		return store.NewMemoryVideoStore()
	})
}

func TestMemoryIndex_ReopenWithOtherDimensionFails(t *testing.T) {
	idx := store.NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Open(ctx, 3, store.MetricCosine))
	assert.Error(t, idx.Open(ctx, 4, store.MetricCosine))
	assert.Error(t, store.NewMemoryIndex().Open(ctx, 3, store.Metric("l1")))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, store.Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, store.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, store.Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, store.Cosine([]float32{0, 0}, []float32{1, 0}))
}
