// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package storetest holds the behaviour suites every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Dim is the vector width used by the suites.
const Dim = 3

// Obs builds a visual observation with the given vector.
func Obs(ts float64, text string, vec ...float32) store.Observation {
	return store.Observation{Timestamp: ts, Text: text, Embedding: vec, Kind: store.KindVisual}
}

// RunIndexSuite runs the index contract against indexes built by open. Each
// call to open must return a fresh, already opened index of width Dim.
func RunIndexSuite(t *testing.T, open func(t *testing.T) store.Index) {
	t.Helper()
	ctx := context.Background()

	t.Run("open is idempotent", func(t *testing.T) {
		idx := open(t)
		require.NoError(t, idx.Open(ctx, Dim, store.MetricCosine))
		require.NoError(t, idx.Open(ctx, Dim, store.MetricCosine))
	})

	t.Run("empty insert is a no-op", func(t *testing.T) {
		idx := open(t)
		n, err := idx.Insert(ctx, "scope-a", nil)
		require.NoError(t, err)
		assert.Zero(t, n)

		count, err := idx.Count(ctx, "scope-a")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("exact vector ranks first with maximal score", func(t *testing.T) {
		idx := open(t)
		n, err := idx.Insert(ctx, "scope-a", []store.Observation{
			Obs(0, "a red car", 1, 0, 0),
			Obs(1, "a blue door", 0, 1, 0),
			Obs(2, "a dark red car", 0.9, 0.1, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		results, err := idx.Search(ctx, []float32{1, 0, 0}, "scope-a", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a red car", results[0].Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		assert.Equal(t, "scope-a", results[0].ScopeID)
		assert.Equal(t, store.KindVisual, results[0].Kind)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results must be best first")
		}
	})

	t.Run("top_k bounds results", func(t *testing.T) {
		idx := open(t)
		_, err := idx.Insert(ctx, "scope-a", []store.Observation{
			Obs(0, "one", 1, 0, 0), Obs(1, "two", 0, 1, 0), Obs(2, "three", 0, 0, 1),
		})
		require.NoError(t, err)

		results, err := idx.Search(ctx, []float32{1, 1, 1}, "scope-a", 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)

		results, err = idx.Search(ctx, []float32{1, 1, 1}, "scope-a", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("dimension mismatch rejects whole batch", func(t *testing.T) {
		idx := open(t)
		_, err := idx.Insert(ctx, "scope-a", []store.Observation{
			Obs(0, "ok", 1, 0, 0),
			Obs(1, "short", 1, 0),
		})
		require.Error(t, err)
		assert.True(t, reelerr.IsDimensionMismatch(err), "got %v", err)

		count, err := idx.Count(ctx, "scope-a")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("scoped search stays in scope and global spans scopes", func(t *testing.T) {
		idx := open(t)
		_, err := idx.Insert(ctx, "scope-a", []store.Observation{Obs(5, "a", 1, 0, 0)})
		require.NoError(t, err)
		_, err = idx.Insert(ctx, "scope-b", []store.Observation{Obs(7, "b", 0.99, 0.01, 0)})
		require.NoError(t, err)

		scoped, err := idx.Search(ctx, []float32{1, 0, 0}, "scope-b", 10)
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		assert.Equal(t, "scope-b", scoped[0].ScopeID)
		assert.InDelta(t, 7.0, scoped[0].Timestamp, 1e-9)

		global, err := idx.Search(ctx, []float32{1, 0, 0}, store.AllScopes, 10)
		require.NoError(t, err)
		require.Len(t, global, 2)
		assert.Equal(t, "scope-a", global[0].ScopeID)
		assert.Equal(t, "scope-b", global[1].ScopeID)
	})

	t.Run("scoped search finds a small scope among many closer neighbours", func(t *testing.T) {
		idx := open(t)
		crowd := make([]store.Observation, 0, 200)
		for i := range 200 {
			crowd = append(crowd, Obs(float64(i), fmt.Sprintf("crowd %d", i), 1, float32(i)/1000, 0))
		}
		_, err := idx.Insert(ctx, "crowd", crowd)
		require.NoError(t, err)
		_, err = idx.Insert(ctx, "small", []store.Observation{
			Obs(1, "far", 0, 0, 1),
			Obs(2, "farther", 0, 1, 1),
		})
		require.NoError(t, err)

		got, err := idx.Search(ctx, []float32{1, 0, 0}, "small", 5)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "small", got[0].ScopeID)
		assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	})

	t.Run("delete empties scope and is idempotent", func(t *testing.T) {
		idx := open(t)
		_, err := idx.Insert(ctx, "scope-a", []store.Observation{Obs(0, "x", 1, 0, 0), Obs(1, "y", 0, 1, 0)})
		require.NoError(t, err)
		_, err = idx.Insert(ctx, "scope-b", []store.Observation{Obs(0, "z", 1, 0, 0)})
		require.NoError(t, err)

		n, err := idx.Delete(ctx, "scope-a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		results, err := idx.Search(ctx, []float32{1, 0, 0}, "scope-a", 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		count, err := idx.Count(ctx, "scope-a")
		require.NoError(t, err)
		assert.Zero(t, count)

		n, err = idx.Delete(ctx, "scope-a")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = idx.Delete(ctx, "never-existed")
		require.NoError(t, err)
		assert.Zero(t, n)

		count, err = idx.Count(ctx, "scope-b")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("delete kind keeps other modality", func(t *testing.T) {
		idx := open(t)
		audio := Obs(10, "[AUDIO] hello", 0, 0, 1)
		audio.Kind = store.KindAudio
		_, err := idx.Insert(ctx, "scope-a", []store.Observation{Obs(0, "frame", 1, 0, 0), audio})
		require.NoError(t, err)

		n, err := idx.DeleteKind(ctx, "scope-a", store.KindAudio)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		count, err := idx.Count(ctx, "scope-a")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("concurrent inserts across scopes", func(t *testing.T) {
		idx := open(t)
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				scope := fmt.Sprintf("scope-%d", i)
				for j := range 5 {
					_, err := idx.Insert(ctx, scope, []store.Observation{Obs(float64(j), "t", 1, float32(j), 0)})
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		for i := range 4 {
			count, err := idx.Count(ctx, fmt.Sprintf("scope-%d", i))
			require.NoError(t, err)
			assert.Equal(t, 5, count)
		}
	})
}

// RunVideoStoreSuite runs the registry contract against stores built by open.
func RunVideoStoreSuite(t *testing.T, open func(t *testing.T) store.VideoStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("upsert and get", func(t *testing.T) {
		s := open(t)
		rec := &store.VideoRecord{ID: "vid-1", Name: "lobby.mp4", SourcePath: "/data/lobby.mp4", Status: store.StatusPending}
		require.NoError(t, s.Upsert(ctx, rec))

		got, err := s.Get(ctx, "vid-1")
		require.NoError(t, err)
		assert.Equal(t, "lobby.mp4", got.Name)
		assert.Equal(t, store.StatusPending, got.Status)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("get unknown is not found", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "missing")
		require.Error(t, err)
		assert.True(t, reelerr.IsNotFound(err))
	})

	t.Run("update is read-modify-write", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, &store.VideoRecord{ID: "vid-1", Status: store.StatusPending, FPS: 30}))

		got, err := s.Update(ctx, "vid-1", func(r *store.VideoRecord) error {
			r.Status = store.StatusProcessing
			r.ExpectedSamples = 5
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, store.StatusProcessing, got.Status)

		stored, err := s.Get(ctx, "vid-1")
		require.NoError(t, err)
		assert.Equal(t, 5, stored.ExpectedSamples)
		assert.InDelta(t, 30.0, stored.FPS, 1e-9)

		_, err = s.Update(ctx, "vid-1", func(*store.VideoRecord) error {
			return reelerr.New(reelerr.CodeIngestRunConflict, "abort")
		})
		require.Error(t, err)
		stored, err = s.Get(ctx, "vid-1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusProcessing, stored.Status)

		_, err = s.Update(ctx, "missing", func(*store.VideoRecord) error { return nil })
		assert.True(t, reelerr.IsNotFound(err))
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, &store.VideoRecord{ID: "vid-1"}))

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, "vid-1", func(r *store.VideoRecord) error {
					r.Processed++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, "vid-1")
		require.NoError(t, err)
		assert.Equal(t, 10, got.Processed)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := open(t)
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.Upsert(ctx, &store.VideoRecord{ID: "old", CreatedAt: base}))
		require.NoError(t, s.Upsert(ctx, &store.VideoRecord{ID: "new", CreatedAt: base.Add(time.Hour)}))

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "new", list[0].ID)
		assert.Equal(t, "old", list[1].ID)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Upsert(ctx, &store.VideoRecord{ID: "vid-1"}))
		require.NoError(t, s.Delete(ctx, "vid-1"))

		_, err := s.Get(ctx, "vid-1")
		assert.True(t, reelerr.IsNotFound(err))
		assert.True(t, reelerr.IsNotFound(s.Delete(ctx, "vid-1")))
	})
}
