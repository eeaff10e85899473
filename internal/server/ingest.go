// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/reel/internal/ingest"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/store"
)

func (s *Server) registerIngestRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "process-video",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/process",
		Summary:       "Start indexing a video",
		Description:   "Runs in the background; follow it with the status or progress endpoints.",
		Tags:          []string{"ingest"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleProcess)

	huma.Register(s.api, huma.Operation{
		OperationID:   "index-audio",
		Method:        http.MethodPost,
		Path:          "/api/v1/videos/{id}/audio",
		Summary:       "Re-index only the audio track of a video",
		Tags:          []string{"ingest"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleIndexAudio)

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-video",
		Method:      http.MethodPost,
		Path:        "/api/v1/videos/{id}/stop",
		Summary:     "Stop indexing a video",
		Tags:        []string{"ingest"},
	}, s.handleStop)

	huma.Register(s.api, huma.Operation{
		OperationID: "video-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}/status",
		Summary:     "Current processing status",
		Tags:        []string{"ingest"},
	}, s.handleStatus)
}

type ingestOutput struct {
	Body struct {
		Message string `json:"message"`
		VideoID string `json:"video_id"`
	}
}

type statusOutput struct {
	Body progress.Event
}

func (s *Server) handleProcess(ctx context.Context, input *videoIDInput) (*ingestOutput, error) {
	if err := s.services.Ingest.Start(ctx, input.ID); err != nil {
		return nil, apiError("starting ingestion", err)
	}
	out := &ingestOutput{}
	out.Body.Message = "Processing started"
	out.Body.VideoID = input.ID
	return out, nil
}

func (s *Server) handleIndexAudio(ctx context.Context, input *videoIDInput) (*ingestOutput, error) {
	if err := s.services.Ingest.StartAudio(ctx, input.ID); err != nil {
		return nil, apiError("starting audio indexing", err)
	}
	out := &ingestOutput{}
	out.Body.Message = "Audio transcription started"
	out.Body.VideoID = input.ID
	return out, nil
}

func (s *Server) handleStop(ctx context.Context, input *videoIDInput) (*ingestOutput, error) {
	if err := s.services.Ingest.Stop(ctx, input.ID); err != nil {
		return nil, apiError("stopping ingestion", err)
	}
	out := &ingestOutput{}
	out.Body.Message = ingest.MessageStopped
	out.Body.VideoID = input.ID
	return out, nil
}

func (s *Server) handleStatus(ctx context.Context, input *videoIDInput) (*statusOutput, error) {
	e, err := s.currentStatus(ctx, input.ID)
	if err != nil {
		return nil, apiError("getting status", err)
	}
	return &statusOutput{Body: e}, nil
}

// currentStatus returns the latest event of an active run, or rebuilds one
// from the stored record.
func (s *Server) currentStatus(ctx context.Context, scope string) (progress.Event, error) {
	rec, err := s.services.Videos.Get(ctx, scope)
	if err != nil {
		return progress.Event{}, err
	}
	if s.services.Ingest.Running(scope) {
		if e, ok := s.services.Progress.Last(scope); ok {
			return e, nil
		}
	}
	return StatusFromRecord(rec), nil
}

// StatusFromRecord describes a video that has no run in flight.
func StatusFromRecord(rec *store.VideoRecord) progress.Event {
	e := progress.Event{
		Scope:   rec.ID,
		Status:  rec.Status,
		Current: rec.Processed,
		Total:   rec.ExpectedSamples,
	}
	switch rec.Status {
	case store.StatusCompleted:
		e.Message = ingest.MessageComplete
		e.Timestamp = rec.Duration
	case store.StatusFailed:
		e.Message = rec.Error
	case store.StatusProcessing:
		e.Message = "Processing..."
	default:
		e.Message = "Waiting to be processed"
	}
	return e
}
