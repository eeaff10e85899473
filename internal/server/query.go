// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/store"
)

func (s *Server) registerQueryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "ask-video",
		Method:      http.MethodPost,
		Path:        "/api/v1/videos/{id}/ask",
		Summary:     "Ask a question about one video",
		Tags:        []string{"query"},
	}, s.handleAsk)

	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Search across every processed video",
		Tags:        []string{"query"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/api/v1/providers",
		Summary:     "Model provider health",
		Tags:        []string{"system"},
	}, s.handleProviders)
}

type askInput struct {
	ID   string `path:"id" doc:"Video id"`
	Body struct {
		Question string `json:"question" minLength:"1" maxLength:"1000" doc:"Question about the video"`
		TopK     *int   `json:"top_k,omitempty" minimum:"0" maximum:"50" doc:"Observations to retrieve"`
	}
}

type askOutput struct {
	Body struct {
		retrieval.Answer
		VideoID  string `json:"video_id"`
		Question string `json:"question"`
	}
}

type searchInput struct {
	Body struct {
		Query     string `json:"query" minLength:"1" maxLength:"1000" doc:"Free-text query"`
		TopK      *int   `json:"top_k,omitempty" minimum:"0" maximum:"100" doc:"Results to return"`
		Summarize *bool  `json:"summarize,omitempty" doc:"Synthesize a cross-video summary (default true)"`
	}
}

type searchOutput struct {
	Body struct {
		retrieval.GlobalResult
		Query string `json:"query"`
	}
}

type providersOutput struct {
	Body struct {
		Providers []provider.ProviderStatus `json:"providers"`
	}
}

func (s *Server) handleAsk(ctx context.Context, input *askInput) (*askOutput, error) {
	rec, err := s.services.Videos.Get(ctx, input.ID)
	if err != nil {
		return nil, apiError("asking question", err)
	}
	if rec.Status != store.StatusCompleted {
		return nil, huma.Error400BadRequest("Video must be processed before asking questions")
	}

	topK := -1
	if input.Body.TopK != nil {
		topK = *input.Body.TopK
	}
	out := &askOutput{}
	out.Body.Answer = s.services.Query.Answer(ctx, rec.ID, input.Body.Question, topK)
	out.Body.VideoID = rec.ID
	out.Body.Question = input.Body.Question
	return out, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	topK := -1
	if input.Body.TopK != nil {
		topK = *input.Body.TopK
	}
	summarize := input.Body.Summarize == nil || *input.Body.Summarize

	out := &searchOutput{}
	out.Body.GlobalResult = s.services.Query.GlobalSearch(ctx, input.Body.Query, topK, summarize)
	out.Body.Query = input.Body.Query
	return out, nil
}

func (s *Server) handleProviders(ctx context.Context, _ *struct{}) (*providersOutput, error) {
	out := &providersOutput{}
	out.Body.Providers = []provider.ProviderStatus{}
	if s.services.Providers != nil {
		out.Body.Providers = append(out.Body.Providers, s.services.Providers.Statuses(ctx)...)
	}
	return out, nil
}
