// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// handle is one in-flight run.
type handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// runGuard admits at most one run per scope. Different scopes never
// contend beyond the map lock.
type runGuard struct {
	mu   sync.Mutex
	runs map[string]*handle
	wg   sync.WaitGroup
}

func newRunGuard() *runGuard {
	return &runGuard{runs: make(map[string]*handle)}
}

// acquire registers a run for scope and returns its context, derived from
// parent but not cancelled by it when detach is set.
func (g *runGuard) acquire(parent context.Context, scope string, detach bool) (context.Context, *handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.runs[scope]; busy {
		return nil, nil, reelerr.New(reelerr.CodeIngestRunConflict,
			"video is already being processed", reelerr.FieldScopeID(scope))
	}

	if detach {
		parent = context.WithoutCancel(parent)
	}
	ctx, cancel := context.WithCancel(parent)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	g.runs[scope] = h
	g.wg.Add(1)
	return ctx, h, nil
}

func (g *runGuard) release(scope string, h *handle) {
	g.mu.Lock()
	if g.runs[scope] == h {
		delete(g.runs, scope)
	}
	g.mu.Unlock()

	h.cancel()
	close(h.done)
	g.wg.Done()
}

func (g *runGuard) get(scope string) (*handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.runs[scope]
	return h, ok
}

func (g *runGuard) wait() { g.wg.Wait() }
