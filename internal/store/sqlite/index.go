// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// vec0 rejects k above this.
const maxKNN = 4096

var _ store.Index = (*Index)(nil)

// Index implements store.Index with a sqlite-vec vec0 table partitioned by
// scope plus a companion observations table sharing its rowids.
type Index struct {
	db  *sql.DB
	dim int
}

// NewIndex opens (or creates) the SQLite database at dbPath. Call Open
// before use.
func NewIndex(dbPath string) (*Index, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	return db, nil
}

func (x *Index) Open(ctx context.Context, dim int, metric store.Metric) error {
	if err := store.CheckOpen(dim, metric); err != nil {
		return err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("creating index_meta table: %w", err)
	}

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'dimensions'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading index dimension: %w", err)
	case stored != strconv.Itoa(dim):
		return reelerr.Errorf(reelerr.CodeStoreIndexOpenInvalid,
			"index was created with dimension %s, configured dimension is %d", stored, dim)
	}

	vecDDL := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS observation_vectors USING vec0(
	scope_id TEXT PARTITION KEY,
	embedding float[%d] distance_metric=cosine
)`, dim)
	if _, err := tx.ExecContext(ctx, vecDDL); err != nil {
		return fmt.Errorf("creating observation_vectors virtual table: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS observations (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	scope_id TEXT NOT NULL,
	kind     TEXT NOT NULL,
	ts       REAL NOT NULL,
	text     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_scope ON observations(scope_id, kind);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating observations table: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO index_meta(key, value) VALUES ('dimensions', ?)`, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("recording index dimension: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index open: %w", err)
	}
	x.dim = dim
	return nil
}

func (x *Index) Insert(ctx context.Context, scope string, obs []store.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	if err := store.ValidateBatch(x.dim, scope, obs); err != nil {
		return 0, err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	metaStmt, err := tx.PrepareContext(ctx, `INSERT INTO observations(scope_id, kind, ts, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing observation insert: %w", err)
	}
	defer func() { _ = metaStmt.Close() }()

	vecStmt, err := tx.PrepareContext(ctx, `INSERT INTO observation_vectors(rowid, scope_id, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing vector insert: %w", err)
	}
	defer func() { _ = vecStmt.Close() }()

	for i, o := range obs {
		blob, err := sqlite_vec.SerializeFloat32(o.Embedding)
		if err != nil {
			return 0, fmt.Errorf("serializing embedding %d: %w", i, err)
		}

		res, err := metaStmt.ExecContext(ctx, scope, string(store.NormalizeKind(o.Kind)), o.Timestamp, o.Text)
		if err != nil {
			return 0, fmt.Errorf("inserting observation %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading observation id: %w", err)
		}

		if _, err := vecStmt.ExecContext(ctx, id, scope, blob); err != nil {
			return 0, fmt.Errorf("inserting vector %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing observation batch: %w", err)
	}
	return len(obs), nil
}

// Search runs a vec0 KNN query. Score is 1 - cosine distance.
func (x *Index) Search(ctx context.Context, query []float32, scope string, topK int) ([]store.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, reelerr.Errorf(reelerr.CodeStoreIndexInsertDimension,
			"query has %d dimensions, index expects %d", len(query), x.dim)
	}
	topK = min(topK, maxKNN)

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serializing query vector: %w", err)
	}

	knn := `SELECT rowid, distance FROM observation_vectors WHERE embedding MATCH ? AND k = ?`
	args := []any{blob, topK}
	if scope != store.AllScopes {
		knn += ` AND scope_id = ?`
		args = append(args, scope)
	}

	q := `WITH knn AS (` + knn + `)
SELECT o.scope_id, o.ts, o.text, o.kind, knn.distance
FROM knn
JOIN observations o ON o.id = knn.rowid
ORDER BY knn.distance`

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeStoreIndexQueryDatabase, "searching observations")
	}
	defer func() { _ = rows.Close() }()

	var results []store.SearchResult
	for rows.Next() {
		var r store.SearchResult
		var distance float64
		if err := rows.Scan(&r.ScopeID, &r.Timestamp, &r.Text, &r.Kind, &distance); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		r.Score = 1 - distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

func (x *Index) Delete(ctx context.Context, scope string) (int, error) {
	return x.deleteWhere(ctx, `scope_id = ?`, scope)
}

func (x *Index) DeleteKind(ctx context.Context, scope string, kind store.SourceKind) (int, error) {
	return x.deleteWhere(ctx, `scope_id = ? AND kind = ?`, scope, string(kind))
}

func (x *Index) deleteWhere(ctx context.Context, where string, args ...any) (int, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM observations WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("selecting observations: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scanning observation id: %w", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating observation ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// vec0 deletes by rowid only.
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM observation_vectors WHERE rowid = ?`, id); err != nil {
			return 0, fmt.Errorf("deleting vector %d: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE `+where, args...); err != nil {
		return 0, fmt.Errorf("deleting observations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing observation delete: %w", err)
	}
	return len(ids), nil
}

func (x *Index) Count(ctx context.Context, scope string) (int, error) {
	q := `SELECT COUNT(*) FROM observations`
	var args []any
	if scope != store.AllScopes {
		q += ` WHERE scope_id = ?`
		args = append(args, scope)
	}

	var n int
	if err := x.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting observations: %w", err)
	}
	return n, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}
