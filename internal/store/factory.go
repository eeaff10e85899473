// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"sort"
	"sync"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// DefaultDimensions matches 1024-wide embedding models (e.g. nv-embedqa, voyage).
const DefaultDimensions = 1024

// IndexFactory builds an unopened index for cfg.
type IndexFactory func(ctx context.Context, cfg IndexConfig) (Index, error)

// VideoStoreFactory builds a registry for cfg.
type VideoStoreFactory func(ctx context.Context, cfg VideoConfig) (VideoStore, error)

var (
	indexFactories = map[string]IndexFactory{}
	videoFactories = map[string]VideoStoreFactory{}
	factoriesMu    sync.RWMutex
)

// RegisterIndexBackend registers a named index backend. Backend packages call
// this from init(). This function is goroutine-safe.
func RegisterIndexBackend(name string, f IndexFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	indexFactories[name] = f
}

// RegisterVideoBackend registers a named registry backend.
func RegisterVideoBackend(name string, f VideoStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	videoFactories[name] = f
}

// IndexBackends lists the registered index backends.
func IndexBackends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(indexFactories))
	for name := range indexFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resolveBackend(name string) string {
	if name == "" {
		return "sqlite"
	}
	return name
}

// OpenIndex builds the configured index and opens it with the configured
// dimension and cosine similarity.
func OpenIndex(ctx context.Context, cfg IndexConfig) (Index, error) {
	backend := resolveBackend(cfg.Backend)

	factoriesMu.RLock()
	factory, ok := indexFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, reelerr.Errorf(reelerr.CodeStoreBackendUnsupported, "unsupported index backend: %q", backend)
	}

	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	idx, err := factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := idx.Open(ctx, cfg.Dimensions, MetricCosine); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

// OpenVideoStore builds the configured registry.
func OpenVideoStore(ctx context.Context, cfg VideoConfig) (VideoStore, error) {
	backend := resolveBackend(cfg.Backend)

	factoriesMu.RLock()
	factory, ok := videoFactories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, reelerr.Errorf(reelerr.CodeStoreBackendUnsupported, "unsupported video store backend: %q", backend)
	}

	return factory(ctx, cfg)
}

func init() {
	RegisterIndexBackend("memory", func(context.Context, IndexConfig) (Index, error) {
		return NewMemoryIndex(), nil
	})
	RegisterVideoBackend("memory", func(context.Context, VideoConfig) (VideoStore, error) {
		return NewMemoryVideoStore(), nil
	})
}
