// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"errors"
	"image"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func init() {
	provider.RegisterFactory("google", func(ctx context.Context, s provider.Settings) (provider.Provider, error) {
		return New(ctx, Config{APIKey: s.APIKey, BaseURL: s.Endpoint})
	})
}

// Config holds Google provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider serves all three model roles over the Gemini API.
type Provider struct {
	client *genai.Client
	config Config
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, reelerr.New(reelerr.CodeProviderRequestInvalid, "google: missing api_key in config", reelerr.FieldProvider("google"))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{client: client, config: cfg}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "google",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Describer(model string) provider.Describer {
	return &describer{p: p, model: model}
}

func (p *Provider) Embedder(model string) provider.Embedder {
	return &embedder{p: p, model: model}
}

func (p *Provider) Synthesizer(model string) provider.Synthesizer {
	return &synthesizer{p: p, model: model}
}

type describer struct {
	p     *Provider
	model string
}

func (d *describer) Describe(ctx context.Context, img image.Image) (string, error) {
	jpegBytes, err := provider.EncodeJPEG(img)
	if err != nil {
		return "", err
	}
	contents, cfg := describeRequest(jpegBytes)
	return d.p.generate(ctx, d.model, contents, cfg)
}

func describeRequest(jpegBytes []byte) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(jpegBytes, "image/jpeg"),
			genai.NewPartFromText(provider.DescribePrompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](provider.DescribeTemperature),
		MaxOutputTokens: provider.DescribeMaxTokens,
	}
	return contents, cfg
}

type synthesizer struct {
	p     *Provider
	model string
}

func (s *synthesizer) Generate(ctx context.Context, question string, items []provider.ContextItem, systemPrompt string) (string, error) {
	contents, cfg := synthesizeRequest(question, items, systemPrompt)
	return s.p.generate(ctx, s.model, contents, cfg)
}

func synthesizeRequest(question string, items []provider.ContextItem, systemPrompt string) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := []*genai.Content{
		genai.NewContentFromText(provider.UserMessage(question, items), genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](provider.SynthesizeTemperature),
		MaxOutputTokens:   provider.SynthesizeMaxTokens,
		SystemInstruction: genai.NewContentFromText(provider.SystemPromptOrDefault(systemPrompt), genai.RoleUser),
	}
	return contents, cfg
}

func (p *Provider) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", classify(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", reelerr.New(reelerr.CodeProviderResponseInvalid,
			"google: response had no text content", reelerr.FieldProvider("google"))
	}
	return text, nil
}

type embedder struct {
	p     *Provider
	model string
}

func (e *embedder) Embed(ctx context.Context, text string, inputType provider.InputType) ([]float32, error) {
	resp, err := e.p.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: taskType(inputType)})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, reelerr.New(reelerr.CodeProviderResponseInvalid,
			"google: embedding response was empty", reelerr.FieldProvider("google"))
	}
	return resp.Embeddings[0].Values, nil
}

func taskType(it provider.InputType) string {
	if it == provider.InputQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
		return reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid, "google: request rejected", reelerr.FieldProvider("google"))
	}
	return reelerr.Wrap(err, reelerr.CodeProviderUpstreamFailure, "google: request failed", reelerr.FieldProvider("google"))
}
