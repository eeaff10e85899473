// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package whisper adapts the OpenAI audio transcription endpoint (and any
// server that mirrors it) to provider.Transcriber.
package whisper

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func init() {
	provider.RegisterFactory("whisper", func(_ context.Context, s provider.Settings) (provider.Provider, error) {
		return New(Config{APIKey: s.APIKey, BaseURL: s.Endpoint})
	})
}

type Config struct {
	APIKey string
	// BaseURL includes the version segment, e.g. "https://api.openai.com/v1".
	BaseURL string
}

type Provider struct {
	client *openai.Client
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, reelerr.New(reelerr.CodeProviderRequestInvalid,
			"whisper: missing api_key in config", reelerr.FieldProvider("whisper"))
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Provider{client: openai.NewClientWithConfig(oc)}, nil
}

func (p *Provider) Name() string { return "whisper" }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: p.Available(ctx), Provider: "whisper", Message: "ok"}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Transcriber(model string) provider.Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	return &transcriber{client: p.client, model: model}
}

type transcriber struct {
	client *openai.Client
	model  string
}

func (t *transcriber) Transcribe(ctx context.Context, audioPath string) ([]provider.Fragment, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, classify(err)
	}
	return fragments(resp), nil
}

func fragments(resp openai.AudioResponse) []provider.Fragment {
	if len(resp.Segments) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			return nil
		}
		return []provider.Fragment{{Start: 0, End: resp.Duration, Text: text}}
	}

	out := make([]provider.Fragment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, provider.Fragment{Start: seg.Start, End: seg.End, Text: text})
	}
	return out
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid, "whisper: request rejected", reelerr.FieldProvider("whisper"))
	}
	return reelerr.Wrap(err, reelerr.CodeProviderUpstreamFailure, "whisper: transcription failed", reelerr.FieldProvider("whisper"))
}
