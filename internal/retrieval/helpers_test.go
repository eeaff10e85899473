// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval_test

import (
	"context"
	"errors"
	"sync"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// cannedIndex returns fixed results and records the last query.
type cannedIndex struct {
	*store.MemoryIndex
	results []store.SearchResult
	err     error

	mu        sync.Mutex
	lastScope string
	lastK     int
}

func newCannedIndex(results ...store.SearchResult) *cannedIndex {
	return &cannedIndex{MemoryIndex: store.NewMemoryIndex(), results: results}
}

func (c *cannedIndex) Search(_ context.Context, _ []float32, scope string, topK int) ([]store.SearchResult, error) {
	c.mu.Lock()
	c.lastScope, c.lastK = scope, topK
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := c.results
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

type stubEmbedder struct {
	calls int
	types []provider.InputType
	err   error
}

func (s *stubEmbedder) Embed(_ context.Context, _ string, it provider.InputType) ([]float32, error) {
	s.calls++
	s.types = append(s.types, it)
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubSynth struct {
	reply  string
	err    error
	calls  int
	items  []provider.ContextItem
	system string
}

func (s *stubSynth) Generate(_ context.Context, _ string, items []provider.ContextItem, system string) (string, error) {
	s.calls++
	s.items, s.system = items, system
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func upstream(role reelerr.Role, msg string) error {
	return reelerr.CallFailure(role, errors.New(msg))
}

func hit(scope string, ts, score float64) store.SearchResult {
	return store.SearchResult{ScopeID: scope, Timestamp: ts, Score: score, Text: scope + " text", Kind: store.KindVisual}
}
