// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package postgres

import "context"

var (
	SchemaStatements  = schemaStatements
	SearchQuery       = searchQuery
	SearchSettings    = searchSettings
	SupportsIterative = supportsIterativeScan
	SortByScore       = sortByScore
)

// Truncate clears every observation so each suite case starts empty.
func (x *Index) Truncate(ctx context.Context) error {
	_, err := x.pool.Exec(ctx, `TRUNCATE reel_observations`)
	return err
}
