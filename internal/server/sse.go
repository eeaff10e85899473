// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/sigil-dev/reel/internal/progress"
)

const (
	// sseBuffer is how many events a slow client may lag before it is
	// disconnected.
	sseBuffer = 64
	// ssePing keeps idle connections open through proxies.
	ssePing = 15 * time.Second
)

func (s *Server) registerProgressRoute() {
	s.router.Get("/api/v1/videos/{id}/progress", s.handleProgress)

	// The stream needs raw http.ResponseWriter access, so the chi route
	// serves it and the OpenAPI entry is added by hand.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "video-progress",
		Method:      http.MethodGet,
		Path:        "/api/v1/videos/{id}/progress",
		Summary:     "Stream processing progress via SSE",
		Description: "Emits `progress` events until the run reaches a terminal state. The first event is the current status.",
		Tags:        []string{"ingest"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {Schema: &huma.Schema{Type: "string", Description: "Server-sent event stream"}},
				},
			},
			"404": {Description: "Video not found"},
		},
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "id")
	ctx := r.Context()

	// Subscribe before reading the snapshot so no event falls between them.
	events, unsubscribe := s.services.Progress.Channel(scope, sseBuffer)
	defer unsubscribe()

	current, err := s.currentStatus(ctx, scope)
	if err != nil {
		writeCodedError(w, "streaming progress", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// httptest.ResponseRecorder does not implement Flusher; events are
	// still written.
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := writeEvent(w, current); err != nil {
		return
	}
	flush()
	// A pending video keeps the stream open until a run starts and ends.
	if current.Status.Terminal() && !s.services.Ingest.Running(scope) {
		return
	}

	ping := time.NewTicker(ssePing)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flush()
		case e, ok := <-events:
			if !ok {
				// Dropped as a slow consumer, or the scope was forgotten.
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
			flush()
			if e.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, e progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}
