// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package postgres is a pgvector-backed observation index for deployments
// that already run PostgreSQL.
package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var _ store.Index = (*Index)(nil)

func init() {
	store.RegisterIndexBackend("postgres", func(ctx context.Context, cfg store.IndexConfig) (store.Index, error) {
		if cfg.PostgresDSN == "" {
			return nil, reelerr.New(reelerr.CodeStoreIndexOpenInvalid, "postgres index requires storage.index.postgres.dsn")
		}
		return New(ctx, cfg.PostgresDSN)
	})
}

// Index stores observations in a single table with a vector column and an
// HNSW cosine index.
type Index struct {
	pool *pgxpool.Pool
	dim  int
	// iterative is set when the installed pgvector (0.8+) supports
	// iterative index scans.
	iterative bool
}

// New connects to dsn. Call Open before use.
func New(ctx context.Context, dsn string) (*Index, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "pinging postgres")
	}
	return &Index{pool: pool}, nil
}

// schemaStatements returns the DDL for an index of width dim.
func schemaStatements(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS reel_index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reel_observations (
	id        BIGSERIAL PRIMARY KEY,
	scope_id  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	ts        DOUBLE PRECISION NOT NULL,
	text      TEXT NOT NULL,
	embedding vector(%d) NOT NULL
)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_reel_observations_scope ON reel_observations (scope_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_reel_observations_embedding ON reel_observations USING hnsw (embedding vector_cosine_ops)`,
	}
}

func (x *Index) Open(ctx context.Context, dim int, metric store.Metric) error {
	if err := store.CheckOpen(dim, metric); err != nil {
		return err
	}

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range schemaStatements(dim) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "applying index schema")
		}
	}

	var stored string
	err = tx.QueryRow(ctx, `SELECT value FROM reel_index_meta WHERE key = 'dimensions'`).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO reel_index_meta (key, value) VALUES ('dimensions', $1)`, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("recording index dimension: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading index dimension: %w", err)
	case stored != strconv.Itoa(dim):
		return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid,
			"index was created with dimension %s, configured dimension is %d", stored, dim)
	}

	var version string
	if err := tx.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version); err != nil {
		return fmt.Errorf("reading pgvector version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing index open: %w", err)
	}
	x.dim = dim
	x.iterative = supportsIterativeScan(version)
	if !x.iterative {
		slog.Info("pgvector without iterative scans, scoped searches run exact", "version", version)
	}
	return nil
}

// supportsIterativeScan reports whether pgvector version v (major.minor[.patch])
// has hnsw.iterative_scan.
func supportsIterativeScan(v string) bool {
	major, rest, _ := strings.Cut(v, ".")
	minor, _, _ := strings.Cut(rest, ".")
	ma, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	mi, err := strconv.Atoi(minor)
	if err != nil {
		return false
	}
	return ma > 0 || mi >= 8
}

func (x *Index) Insert(ctx context.Context, scope string, obs []store.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	if err := store.ValidateBatch(x.dim, scope, obs); err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`INSERT INTO reel_observations (scope_id, kind, ts, text, embedding) VALUES ($1, $2, $3, $4, $5)`,
			scope, string(store.NormalizeKind(o.Kind)), o.Timestamp, o.Text, pgvector.NewVector(o.Embedding))
	}

	// A batch sent inside a transaction lands all-or-nothing.
	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "inserting observation batch")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing observation batch: %w", err)
	}
	return len(obs), nil
}

// Bounds of hnsw.ef_search, the number of candidates an HNSW scan returns.
const (
	minEfSearch = 40
	maxEfSearch = 1000
)

// searchSettings returns the SET LOCAL statements run before a search for
// topK rows. The HNSW scan never returns more than ef_search rows, and a
// scope filter is applied after it, so scoped searches on pgvector 0.8+
// keep scanning until enough rows pass the filter.
func searchSettings(scope string, topK int, iterative bool) []string {
	stmts := []string{fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", min(maxEfSearch, max(minEfSearch, topK)))}
	if scope != store.AllScopes && iterative {
		stmts = append(stmts, "SET LOCAL hnsw.iterative_scan = relaxed_order")
	}
	return stmts
}

// searchQuery builds the KNN query. $1 is the query vector, $2 the limit and
// $3 the scope when one is given. Without iterative scans a scoped search
// orders by an expression the HNSW index cannot serve, which makes it an
// exact scan over the scope's rows.
func searchQuery(scope string, iterative bool) string {
	q := `SELECT scope_id, ts, text, kind, 1 - (embedding <=> $1) AS score FROM reel_observations`
	switch {
	case scope == store.AllScopes:
		return q + ` ORDER BY embedding <=> $1 LIMIT $2`
	case iterative:
		return q + ` WHERE scope_id = $3 ORDER BY embedding <=> $1 LIMIT $2`
	default:
		return q + ` WHERE scope_id = $3 ORDER BY (embedding <=> $1) + 0 LIMIT $2`
	}
}

func (x *Index) Search(ctx context.Context, query []float32, scope string, topK int) ([]store.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, reelerr.Errorf(reelerr.CodeStoreIndexInsertDimension,
			"query has %d dimensions, index expects %d", len(query), x.dim)
	}

	args := []any{pgvector.NewVector(query), topK}
	if scope != store.AllScopes {
		args = append(args, scope)
	}

	// SET LOCAL only lasts for the transaction.
	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range searchSettings(scope, topK, x.iterative) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, reelerr.Wrapf(err, reelerr.CodeStoreIndexQueryDatabase, "configuring search")
		}
	}

	rows, err := tx.Query(ctx, searchQuery(scope, x.iterative), args...)
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreIndexQueryDatabase, "searching observations")
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var kind string
		if err := rows.Scan(&r.ScopeID, &r.Timestamp, &r.Text, &kind, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		r.Kind = store.SourceKind(kind)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	// relaxed_order may return rows slightly out of distance order.
	sortByScore(results)
	return results, nil
}

func sortByScore(results []store.SearchResult) {
	slices.SortStableFunc(results, func(a, b store.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

func (x *Index) Delete(ctx context.Context, scope string) (int, error) {
	tag, err := x.pool.Exec(ctx, `DELETE FROM reel_observations WHERE scope_id = $1`, scope)
	if err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "deleting observations")
	}
	return int(tag.RowsAffected()), nil
}

func (x *Index) DeleteKind(ctx context.Context, scope string, kind store.SourceKind) (int, error) {
	tag, err := x.pool.Exec(ctx, `DELETE FROM reel_observations WHERE scope_id = $1 AND kind = $2`, scope, string(kind))
	if err != nil {
		return 0, reelerr.Wrapf(err, reelerr.CodeStoreDatabaseFailure, "deleting observations")
	}
	return int(tag.RowsAffected()), nil
}

func (x *Index) Count(ctx context.Context, scope string) (int, error) {
	q := `SELECT COUNT(*) FROM reel_observations`
	var args []any
	if scope != store.AllScopes {
		q += ` WHERE scope_id = $1`
		args = append(args, scope)
	}

	var n int
	if err := x.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting observations: %w", err)
	}
	return n, nil
}

func (x *Index) Close() error {
	x.pool.Close()
	return nil
}
