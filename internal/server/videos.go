// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// VideoInfo is the API view of a registered video.
type VideoInfo struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Filename        string       `json:"filename"`
	Status          store.Status `json:"status" enum:"pending,processing,completed,failed"`
	Duration        float64      `json:"duration"`
	FPS             float64      `json:"fps"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	HasAudio        bool         `json:"has_audio"`
	FrameCount      int          `json:"frame_count"`
	ExpectedSamples int          `json:"expected_samples"`
	ProcessedFrames int          `json:"processed_frames"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ProcessedAt     *time.Time   `json:"processed_at,omitempty"`
	ThumbnailURL    string       `json:"thumbnail_url,omitempty"`
}

func (s *Server) videoInfo(rec *store.VideoRecord) VideoInfo {
	v := VideoInfo{
		ID:              rec.ID,
		Name:            rec.DisplayName(),
		Filename:        rec.Filename,
		Status:          rec.Status,
		Duration:        rec.Duration,
		FPS:             rec.FPS,
		Width:           rec.Width,
		Height:          rec.Height,
		HasAudio:        rec.HasAudio,
		FrameCount:      rec.TotalFrames,
		ExpectedSamples: rec.ExpectedSamples,
		ProcessedFrames: rec.Processed,
		Error:           rec.Error,
		CreatedAt:       rec.CreatedAt,
	}
	if !rec.ProcessedAt.IsZero() {
		at := rec.ProcessedAt
		v.ProcessedAt = &at
	}
	if _, err := os.Stat(ThumbnailFile(s.services.DataDir, rec.ID)); err == nil {
		v.ThumbnailURL = retrieval.ThumbnailPath(rec.ID)
	}
	return v
}

func (s *Server) registerVideoRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-videos",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos",
		Summary:     "List videos",
		Tags:        []string{"videos"},
	}, s.handleListVideos)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-video",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}",
		Summary:     "Get video details",
		Tags:        []string{"videos"},
	}, s.handleGetVideo)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-video",
		Method:      http.MethodDelete,
		Path:        "/api/v1/videos/{id}",
		Summary:     "Delete a video, its file and its observations",
		Tags:        []string{"videos"},
	}, s.handleDeleteVideo)

	// Uploads and file downloads need the raw request and response, so they
	// are plain chi routes documented by hand.
	s.router.Post("/api/v1/videos", s.handleUpload)
	s.router.Get("/api/v1/videos/{id}/thumbnail", s.handleThumbnail)
	s.router.Get("/api/v1/videos/{id}/stream", s.handleStream)

	oapi := s.api.OpenAPI()
	oapi.AddOperation(&huma.Operation{
		OperationID: "upload-video",
		Method:      http.MethodPost,
		Path:        "/api/v1/videos",
		Summary:     "Upload a video",
		Description: "multipart/form-data with a `file` part and an optional `name` field. The video is registered as pending.",
		Tags:        []string{"videos"},
		Responses: map[string]*huma.Response{
			"201": {Description: "Registered video"},
			"400": {Description: "Missing file or unsupported format"},
			"413": {Description: "Upload too large"},
			"422": {Description: "File is not a readable video"},
		},
	})
	oapi.AddOperation(&huma.Operation{
		OperationID: "get-thumbnail",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}/thumbnail",
		Summary:     "Video thumbnail (JPEG)",
		Tags:        []string{"videos"},
		Responses:   map[string]*huma.Response{"200": {Description: "JPEG image"}, "404": {Description: "No thumbnail"}},
	})
	oapi.AddOperation(&huma.Operation{
		OperationID: "stream-video",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}/stream",
		Summary:     "Stream the video file",
		Description: "Supports HTTP range requests.",
		Tags:        []string{"videos"},
		Responses:   map[string]*huma.Response{"200": {Description: "Video bytes"}, "404": {Description: "Video not found"}},
	})
}

type videoIDInput struct {
	ID string `path:"id" doc:"Video id"`
}

type listVideosOutput struct {
	Body struct {
		Videos []VideoInfo `json:"videos"`
		Total  int         `json:"total"`
	}
}

type videoOutput struct {
	Body VideoInfo
}

type deleteVideoOutput struct {
	Body struct {
		Message string `json:"message"`
		VideoID string `json:"video_id"`
		Removed int    `json:"observations_removed"`
	}
}

func (s *Server) handleListVideos(ctx context.Context, _ *struct{}) (*listVideosOutput, error) {
	recs, err := s.services.Videos.List(ctx)
	if err != nil {
		return nil, apiError("listing videos", err)
	}
	out := &listVideosOutput{}
	out.Body.Videos = make([]VideoInfo, 0, len(recs))
	for _, rec := range recs {
		out.Body.Videos = append(out.Body.Videos, s.videoInfo(rec))
	}
	out.Body.Total = len(recs)
	return out, nil
}

func (s *Server) handleGetVideo(ctx context.Context, input *videoIDInput) (*videoOutput, error) {
	rec, err := s.services.Videos.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError("getting video", err)
	}
	return &videoOutput{Body: s.videoInfo(rec)}, nil
}

func (s *Server) handleDeleteVideo(ctx context.Context, input *videoIDInput) (*deleteVideoOutput, error) {
	rec, err := s.services.Videos.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError("deleting video", err)
	}

	if s.services.Ingest.Running(rec.ID) {
		if err := s.services.Ingest.Stop(ctx, rec.ID); err != nil && !reelerr.IsConflict(err) {
			return nil, apiError("stopping ingestion", err)
		}
	}

	removed, err := s.library.Remove(ctx, rec)
	if err != nil {
		return nil, apiError("deleting video", err)
	}
	s.services.Progress.Forget(rec.ID)

	out := &deleteVideoOutput{}
	out.Body.Message = "Video deleted"
	out.Body.VideoID = rec.ID
	out.Body.Removed = removed
	return out, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	rec, err := s.library.Import(r.Context(), file, header.Filename, r.FormValue("name"))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeCodedError(w, "uploading video", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.videoInfo(rec))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.services.Videos.Get(r.Context(), id); err != nil {
		writeCodedError(w, "getting thumbnail", err)
		return
	}
	path := ThumbnailFile(s.services.DataDir, id)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "thumbnail not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=3600")
	http.ServeFile(w, r, path)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rec, err := s.services.Videos.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCodedError(w, "streaming video", err)
		return
	}
	f, err := os.Open(rec.SourcePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "video file not found")
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading video file")
		return
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(rec.Filename, `"`, "")+`"`)
	http.ServeContent(w, r, rec.Filename, info.ModTime(), f)
}
