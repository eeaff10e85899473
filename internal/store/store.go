// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "context"

// AllScopes searches across every scope in the index.
const AllScopes = ""

// VideoStore is the scope registry. Every write is atomic per video.
type VideoStore interface {
	// Get returns a CodeStoreVideoGetNotFound error for unknown ids.
	Get(ctx context.Context, id string) (*VideoRecord, error)
	// List returns all videos, newest first.
	List(ctx context.Context) ([]*VideoRecord, error)
	Upsert(ctx context.Context, rec *VideoRecord) error
	// Update applies fn to the stored record and persists the result as a
	// single read-modify-write. Returning an error from fn aborts the write.
	Update(ctx context.Context, id string, fn func(*VideoRecord) error) (*VideoRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Index is the semantic vector index over observations.
type Index interface {
	// Open idempotently ensures the backing collection exists with the
	// given dimension.
	Open(ctx context.Context, dim int, metric Metric) error
	// Insert writes the batch under scope atomically. An empty batch is a
	// no-op; any vector of the wrong length rejects the whole batch with
	// CodeStoreIndexInsertDimension.
	Insert(ctx context.Context, scope string, obs []Observation) (int, error)
	// Search returns at most topK results, best first. scope == AllScopes
	// searches every scope.
	Search(ctx context.Context, query []float32, scope string, topK int) ([]SearchResult, error)
	// Delete removes every observation of scope and reports how many went.
	Delete(ctx context.Context, scope string) (int, error)
	// DeleteKind removes the observations of one source kind within scope.
	DeleteKind(ctx context.Context, scope string, kind SourceKind) (int, error)
	Count(ctx context.Context, scope string) (int, error)
	Close() error
}
