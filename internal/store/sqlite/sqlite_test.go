// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"context"
	"testing"

	"github.com/sigil-dev/reel/internal/store"
	"github.com/sigil-dev/reel/internal/store/sqlite"
	"github.com/sigil-dev/reel/internal/store/storetest"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIndex(t *testing.T) store.Index {
	t.Helper()
	idx, err := sqlite.NewIndex(testDBPath(t, "index"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	require.NoError(t, idx.Open(context.Background(), storetest.Dim, store.MetricCosine))
	return idx
}

func TestIndex(t *testing.T) {
	storetest.RunIndexSuite(t, openIndex)
}

func TestVideoStore(t *testing.T) {
	storetest.RunVideoStoreSuite(t, func(t *testing.T) store.VideoStore {
		vs, err := sqlite.NewVideoStore(testDBPath(t, "videos"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = vs.Close() })
		return vs
	})
}

func TestIndex_ReopenKeepsDataAndDimension(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t, "reopen")

	idx, err := sqlite.NewIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Open(ctx, 3, store.MetricCosine))
	_, err = idx.Insert(ctx, "vid-1", []store.Observation{storetest.Obs(1.5, "a person at the door", 1, 0, 0)})
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = sqlite.NewIndex(path)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Open(ctx, 4, store.MetricCosine)
	require.Error(t, err)
	assert.True(t, reelerr.IsInvalidInput(err))

	require.NoError(t, idx.Open(ctx, 3, store.MetricCosine))
	results, err := idx.Search(ctx, []float32{1, 0, 0}, "vid-1", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a person at the door", results[0].Text)
	assert.InDelta(t, 1.5, results[0].Timestamp, 1e-9)
}

func TestIndex_SearchRejectsWrongQueryWidth(t *testing.T) {
	idx := openIndex(t)
	_, err := idx.Search(context.Background(), []float32{1, 0}, store.AllScopes, 5)
	require.Error(t, err)
	assert.True(t, reelerr.IsDimensionMismatch(err))
}

func TestFactoryRegistersSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := store.OpenIndex(ctx, store.IndexConfig{Backend: "sqlite", Dimensions: 3, DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	vs, err := store.OpenVideoStore(ctx, store.VideoConfig{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = vs.Close() }()
}
