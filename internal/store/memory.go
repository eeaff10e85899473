// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var (
	_ Index      = (*MemoryIndex)(nil)
	_ VideoStore = (*MemoryVideoStore)(nil)
)

// MemoryIndex is an exact brute-force cosine index held in process memory.
// It backs tests and single-shot CLI runs.
type MemoryIndex struct {
	mu  sync.RWMutex
	dim int
	obs []Observation
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) Open(_ context.Context, dim int, metric Metric) error {
	if err := CheckOpen(dim, metric); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dim != 0 && m.dim != dim {
		return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid, "index already open with dimension %d, got %d", m.dim, dim)
	}
	m.dim = dim
	return nil
}

func (m *MemoryIndex) Insert(_ context.Context, scope string, obs []Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ValidateBatch(m.dim, scope, obs); err != nil {
		return 0, err
	}
	for _, o := range obs {
		o.ScopeID = scope
		o.Kind = NormalizeKind(o.Kind)
		o.Embedding = slices.Clone(o.Embedding)
		m.obs = append(m.obs, o)
	}
	return len(obs), nil
}

func (m *MemoryIndex) Search(_ context.Context, query []float32, scope string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(query) != m.dim {
		return nil, reelerr.Errorf(reelerr.CodeStoreIndexInsertDimension, "query has %d dimensions, index expects %d", len(query), m.dim)
	}

	var results []SearchResult
	for _, o := range m.obs {
		if scope != AllScopes && o.ScopeID != scope {
			continue
		}
		results = append(results, SearchResult{
			ScopeID:   o.ScopeID,
			Timestamp: o.Timestamp,
			Text:      o.Text,
			Kind:      o.Kind,
			Score:     Cosine(query, o.Embedding),
		})
	}

	slices.SortStableFunc(results, func(a, b SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MemoryIndex) Delete(_ context.Context, scope string) (int, error) {
	return m.remove(func(o Observation) bool { return o.ScopeID == scope }), nil
}

func (m *MemoryIndex) DeleteKind(_ context.Context, scope string, kind SourceKind) (int, error) {
	return m.remove(func(o Observation) bool { return o.ScopeID == scope && o.Kind == kind }), nil
}

func (m *MemoryIndex) remove(match func(Observation) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.obs)
	m.obs = slices.DeleteFunc(m.obs, match)
	return before - len(m.obs)
}

func (m *MemoryIndex) Count(_ context.Context, scope string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, o := range m.obs {
		if scope == AllScopes || o.ScopeID == scope {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) Close() error { return nil }

// Cosine returns the cosine similarity of a and b, or 0 when either is zero.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryVideoStore is a mutex-guarded registry held in process memory.
type MemoryVideoStore struct {
	mu     sync.Mutex
	videos map[string]VideoRecord
}

func NewMemoryVideoStore() *MemoryVideoStore {
	return &MemoryVideoStore{videos: make(map[string]VideoRecord)}
}

func (s *MemoryVideoStore) Get(_ context.Context, id string) (*VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound(id)
	}
	return &rec, nil
}

func (s *MemoryVideoStore) List(_ context.Context) ([]*VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*VideoRecord, 0, len(s.videos))
	for _, rec := range s.videos {
		out = append(out, &rec)
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *MemoryVideoStore) Upsert(_ context.Context, rec *VideoRecord) error {
	if rec.ID == "" {
		return reelerr.New(reelerr.CodeStoreVideoUpsertInvalid, "video id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	Stamp(rec)
	s.videos[rec.ID] = *rec
	return nil
}

func (s *MemoryVideoStore) Update(_ context.Context, id string, fn func(*VideoRecord) error) (*VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound(id)
	}
	if err := fn(&rec); err != nil {
		return nil, err
	}
	rec.ID = id
	Stamp(&rec)
	s.videos[id] = rec
	return &rec, nil
}

func (s *MemoryVideoStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[id]; !ok {
		return ErrVideoNotFound(id)
	}
	delete(s.videos, id)
	return nil
}

func (s *MemoryVideoStore) Close() error { return nil }

// SortNewestFirst orders records by creation time, newest first.
func SortNewestFirst(recs []*VideoRecord) {
	slices.SortStableFunc(recs, func(a, b *VideoRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Stamp fills CreatedAt on first write and refreshes UpdatedAt.
func Stamp(rec *VideoRecord) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}
