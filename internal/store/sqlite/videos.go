// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var _ store.VideoStore = (*VideoStore)(nil)

// VideoStore implements store.VideoStore backed by SQLite.
type VideoStore struct {
	db *sql.DB
}

// NewVideoStore opens (or creates) a SQLite database at dbPath and
// initialises the videos table.
func NewVideoStore(dbPath string) (*VideoStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateVideos(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating videos table: %w", err)
	}
	return &VideoStore{db: db}, nil
}

func migrateVideos(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS videos (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	filename         TEXT NOT NULL DEFAULT '',
	source_path      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	duration         REAL NOT NULL DEFAULT 0,
	fps              REAL NOT NULL DEFAULT 0,
	width            INTEGER NOT NULL DEFAULT 0,
	height           INTEGER NOT NULL DEFAULT 0,
	has_audio        INTEGER NOT NULL DEFAULT 0,
	total_frames     INTEGER NOT NULL DEFAULT 0,
	expected_samples INTEGER NOT NULL DEFAULT 0,
	processed        INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	processed_at     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_videos_created ON videos(created_at);
`
	_, err := db.Exec(ddl)
	return err
}

const videoColumns = `id, name, filename, source_path, status, duration, fps, width, height, has_audio,
total_frames, expected_samples, processed, error, created_at, updated_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*store.VideoRecord, error) {
	var rec store.VideoRecord
	var createdAt, updatedAt, processedAt string
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Filename, &rec.SourcePath, &rec.Status,
		&rec.Duration, &rec.FPS, &rec.Width, &rec.Height, &rec.HasAudio,
		&rec.TotalFrames, &rec.ExpectedSamples, &rec.Processed, &rec.Error,
		&createdAt, &updatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.ProcessedAt = parseTime(processedAt)
	return &rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertVideo(ctx context.Context, db execer, rec *store.VideoRecord) error {
	const q = `INSERT INTO videos (` + videoColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name, filename = excluded.filename, source_path = excluded.source_path,
	status = excluded.status, duration = excluded.duration, fps = excluded.fps,
	width = excluded.width, height = excluded.height, has_audio = excluded.has_audio,
	total_frames = excluded.total_frames, expected_samples = excluded.expected_samples,
	processed = excluded.processed, error = excluded.error,
	updated_at = excluded.updated_at, processed_at = excluded.processed_at`

	_, err := db.ExecContext(ctx, q,
		rec.ID, rec.Name, rec.Filename, rec.SourcePath, string(rec.Status),
		rec.Duration, rec.FPS, rec.Width, rec.Height, rec.HasAudio,
		rec.TotalFrames, rec.ExpectedSamples, rec.Processed, rec.Error,
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTime(rec.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting video %s: %w", rec.ID, err)
	}
	return nil
}

func (s *VideoStore) Get(ctx context.Context, id string) (*store.VideoRecord, error) {
	rec, err := scanVideo(s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrVideoNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting video %s: %w", id, err)
	}
	return rec, nil
}

func (s *VideoStore) List(ctx context.Context) ([]*store.VideoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.VideoRecord
	for rows.Next() {
		rec, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning video row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating video rows: %w", err)
	}
	return out, nil
}

func (s *VideoStore) Upsert(ctx context.Context, rec *store.VideoRecord) error {
	if rec.ID == "" {
		return reelerr.New(reelerr.CodeStoreVideoUpsertInvalid, "video id must not be empty")
	}
	store.Stamp(rec)
	return upsertVideo(ctx, s.db, rec)
}

// Update runs fn inside an immediate transaction so concurrent writers to
// the same video serialise on the database write lock.
func (s *VideoStore) Update(ctx context.Context, id string, fn func(*store.VideoRecord) error) (*store.VideoRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanVideo(tx.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrVideoNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting video %s: %w", id, err)
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.ID = id
	store.Stamp(rec)

	if err := upsertVideo(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing video update: %w", err)
	}
	return rec, nil
}

func (s *VideoStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting video %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for video %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrVideoNotFound(id)
	}
	return nil
}

func (s *VideoStore) Close() error {
	return s.db.Close()
}

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serialises a time for storage; the zero time is stored as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
