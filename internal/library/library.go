// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package library manages the video files reel keeps under its data
// directory: importing a source into the registry and removing a video with
// everything derived from it.
package library

import (
	"context"
	"errors"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// SupportedExtensions are the container formats accepted for import.
var SupportedExtensions = []string{".mp4", ".avi", ".mkv", ".mov", ".webm"}

// Supported reports whether filename has an accepted extension.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Media probes sources and renders thumbnails.
type Media interface {
	Metadata(ctx context.Context, path string) (media.Metadata, error)
	Thumbnail(ctx context.Context, path string, timestamp float64) (image.Image, error)
}

// Library ties the registry, the index and the files on disk together.
type Library struct {
	Videos  store.VideoStore
	Index   store.Index
	Media   Media
	DataDir string

	ThumbnailWidth  int
	ThumbnailHeight int
}

// VideoDir is where imported sources live.
func VideoDir(dataDir string) string { return filepath.Join(dataDir, "videos") }

// ThumbnailFile is the JPEG thumbnail path for scope.
func ThumbnailFile(dataDir, scope string) string {
	return filepath.Join(dataDir, "thumbnails", scope+".jpg")
}

// Import copies src under the data directory, probes it, registers it as
// pending and writes a thumbnail. Nothing is left behind on failure.
func (l *Library) Import(ctx context.Context, src io.Reader, filename, name string) (*store.VideoRecord, error) {
	if !Supported(filename) {
		return nil, reelerr.New(reelerr.CodeServerRequestInvalid,
			"unsupported format; allowed: "+strings.Join(SupportedExtensions, ", "), reelerr.FieldPath(filename))
	}

	id := uuid.NewString()
	dir := VideoDir(l.DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeServerInternalFailure, "creating video directory")
	}
	path := filepath.Join(dir, id+strings.ToLower(filepath.Ext(filename)))

	if err := writeFile(path, src); err != nil {
		return nil, err
	}
	cleanup := func() { _ = os.Remove(path) }

	meta, err := l.Media.Metadata(ctx, path)
	if err != nil {
		cleanup()
		if !reelerr.IsSourceUnreadable(err) {
			err = reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "probing "+filepath.Base(filename), reelerr.FieldPath(filename))
		}
		return nil, err
	}

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	rec := &store.VideoRecord{
		ID:          id,
		Name:        name,
		Filename:    filepath.Base(filename),
		SourcePath:  path,
		Status:      store.StatusPending,
		Duration:    meta.Duration,
		FPS:         meta.FPS,
		Width:       meta.Width,
		Height:      meta.Height,
		HasAudio:    meta.HasAudio,
		TotalFrames: meta.TotalFrames,
	}
	if err := l.Videos.Upsert(ctx, rec); err != nil {
		cleanup()
		return nil, err
	}

	l.writeThumbnail(ctx, rec, meta)
	slog.Info("video registered", "scope_id", id, "name", name, "duration", meta.Duration)
	return rec, nil
}

// ImportFile imports the file at path.
func (l *Library) ImportFile(ctx context.Context, path, name string) (*store.VideoRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "opening source", reelerr.FieldPath(path))
	}
	defer func() { _ = f.Close() }()
	return l.Import(ctx, f, filepath.Base(path), name)
}

func writeFile(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return reelerr.Wrap(err, reelerr.CodeServerInternalFailure, "creating video file")
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return reelerr.Wrap(err, reelerr.CodeServerInternalFailure, "writing video file")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return reelerr.Wrap(err, reelerr.CodeServerInternalFailure, "closing video file")
	}
	return nil
}

// writeThumbnail renders a frame one second in, or halfway through short
// clips. Failure only costs the thumbnail.
func (l *Library) writeThumbnail(ctx context.Context, rec *store.VideoRecord, meta media.Metadata) {
	ts := min(1.0, meta.Duration/2)
	img, err := l.Media.Thumbnail(ctx, rec.SourcePath, ts)
	if err == nil {
		var data []byte
		data, err = media.EncodeThumbnail(img, l.ThumbnailWidth, l.ThumbnailHeight)
		if err == nil {
			path := ThumbnailFile(l.DataDir, rec.ID)
			if err = os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
				err = os.WriteFile(path, data, 0o644)
			}
		}
	}
	if err != nil {
		slog.Warn("thumbnail generation failed", "scope_id", rec.ID, "error", err)
	}
}

// Remove deletes the observations, files and registry entry of rec and
// returns how many observations were removed. Missing files are ignored.
func (l *Library) Remove(ctx context.Context, rec *store.VideoRecord) (int, error) {
	removed, err := l.Index.Delete(ctx, rec.ID)
	if err != nil {
		return 0, err
	}
	for _, path := range []string{rec.SourcePath, ThumbnailFile(l.DataDir, rec.ID)} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("removing video file", "scope_id", rec.ID, "path", path, "error", err)
		}
	}
	if err := l.Videos.Delete(ctx, rec.ID); err != nil {
		return removed, err
	}
	slog.Info("video deleted", "scope_id", rec.ID, "observations", removed)
	return removed, nil
}
