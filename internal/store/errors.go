// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"fmt"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// ErrVideoNotFound builds the NotFound error for a scope.
func ErrVideoNotFound(id string) error {
	return reelerr.New(reelerr.CodeStoreVideoGetNotFound,
		fmt.Sprintf("video %s not found", id), reelerr.FieldScopeID(id))
}

// ValidateBatch checks a batch against the index dimension before any of it
// is written. Backends call it first so a bad element never lands partially.
func ValidateBatch(dim int, scope string, obs []Observation) error {
	if scope == "" {
		return reelerr.New(reelerr.CodeStoreIndexOpenInvalid, "insert: scope must not be empty")
	}
	for i, o := range obs {
		if len(o.Embedding) != dim {
			return reelerr.New(reelerr.CodeStoreIndexInsertDimension,
				fmt.Sprintf("observation %d: embedding has %d dimensions, index expects %d", i, len(o.Embedding), dim),
				reelerr.FieldScopeID(scope),
				reelerr.Field("index", i),
			)
		}
		if o.Timestamp < 0 {
			return reelerr.New(reelerr.CodeStoreIndexOpenInvalid,
				fmt.Sprintf("observation %d: negative timestamp %g", i, o.Timestamp),
				reelerr.FieldScopeID(scope))
		}
	}
	return nil
}

// NormalizeKind maps an empty kind to KindVisual.
func NormalizeKind(k SourceKind) SourceKind {
	if k == "" {
		return KindVisual
	}
	return k
}

func checkMetric(metric Metric) error {
	if metric != "" && metric != MetricCosine {
		return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid, "unsupported metric %q", metric)
	}
	return nil
}

// CheckOpen validates Open arguments shared by every backend.
func CheckOpen(dim int, metric Metric) error {
	if dim <= 0 {
		return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid, "index dimension must be positive, got %d", dim)
	}
	return checkMetric(metric)
}
