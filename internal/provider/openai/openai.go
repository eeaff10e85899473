// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openai adapts OpenAI-compatible HTTP APIs. Besides OpenAI itself
// it registers openrouter, ollama and nim, which speak the same protocol at
// different endpoints.
package openai

import (
	"context"
	"errors"
	"image"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// defaultEndpoints maps each registered provider kind to its base URL. An
// empty URL means the SDK default.
var defaultEndpoints = map[string]string{
	"openai":     "",
	"openrouter": "https://openrouter.ai/api/v1",
	"ollama":     "http://localhost:11434/v1",
	"nim":        "https://integrate.api.nvidia.com/v1",
}

// keyless kinds run locally and accept any bearer token.
var keyless = map[string]bool{"ollama": true}

func init() {
	for name, endpoint := range defaultEndpoints {
		provider.RegisterFactory(name, func(_ context.Context, s provider.Settings) (provider.Provider, error) {
			cfg := Config{Name: name, APIKey: s.APIKey, BaseURL: s.Endpoint, Dimensions: s.Dimensions}
			if cfg.BaseURL == "" {
				cfg.BaseURL = endpoint
			}
			return New(cfg)
		})
	}
}

// Config holds OpenAI-compatible provider configuration.
type Config struct {
	// Name is the registered kind ("openai", "nim", ...). Defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
	// Dimensions shortens text-embedding-3 vectors to the index width.
	Dimensions int
}

// Provider serves describer, embedder and synthesizer roles over the Chat
// Completions and Embeddings APIs.
type Provider struct {
	client openaisdk.Client
	config Config
}

// New creates a new provider. Returns an error if the API key is missing
// for a hosted kind.
func New(cfg Config) (*Provider, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIKey == "" {
		if !keyless[cfg.Name] {
			return nil, reelerr.New(reelerr.CodeProviderRequestInvalid,
				cfg.Name+": missing api_key in config", reelerr.FieldProvider(cfg.Name))
		}
		cfg.APIKey = cfg.Name
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by provider.RetryPolicy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (p *Provider) Name() string { return p.config.Name }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  p.config.Name,
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
	return d.p.complete(ctx, describeParams(d.model, provider.DataURL(jpegBytes)))
}

func describeParams(model, dataURL string) openaisdk.ChatCompletionNewParams {
	return openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(provider.DescribePrompt),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		MaxTokens:   openaisdk.Int(provider.DescribeMaxTokens),
		Temperature: openaisdk.Float(provider.DescribeTemperature),
	}
}

type synthesizer struct {
	p     *Provider
	model string
}

func (s *synthesizer) Generate(ctx context.Context, question string, items []provider.ContextItem, systemPrompt string) (string, error) {
	return s.p.complete(ctx, synthesizeParams(s.model, question, items, systemPrompt))
}

func synthesizeParams(model, question string, items []provider.ContextItem, systemPrompt string) openaisdk.ChatCompletionNewParams {
	return openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(provider.SystemPromptOrDefault(systemPrompt)),
			openaisdk.UserMessage(provider.UserMessage(question, items)),
		},
		MaxTokens:   openaisdk.Int(provider.SynthesizeMaxTokens),
		Temperature: openaisdk.Float(provider.SynthesizeTemperature),
	}
}

func (p *Provider) complete(ctx context.Context, params openaisdk.ChatCompletionNewParams) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", reelerr.New(reelerr.CodeProviderResponseInvalid,
			p.config.Name+": completion returned no choices", reelerr.FieldProvider(p.config.Name))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type embedder struct {
	p     *Provider
	model string
}

func (e *embedder) Embed(ctx context.Context, text string, inputType provider.InputType) ([]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(e.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
	}
	if e.p.config.Dimensions > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openaisdk.Int(int64(e.p.config.Dimensions))
	}

	var opts []option.RequestOption
	if e.asymmetric() {
		opts = append(opts, option.WithJSONSet("input_type", string(inputType)))
	}

	resp, err := e.p.client.Embeddings.New(ctx, params, opts...)
	if err != nil {
		return nil, e.p.classify(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, reelerr.New(reelerr.CodeProviderResponseInvalid,
			e.p.config.Name+": embedding response was empty", reelerr.FieldProvider(e.p.config.Name))
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// asymmetric reports whether the model expects an input_type field (NVIDIA
// retrieval models reject requests without it).
func (e *embedder) asymmetric() bool {
	return e.p.config.Name == "nim" || strings.HasPrefix(e.model, "nvidia/")
}

// classify maps SDK errors onto reel codes. Request errors are not retried.
func (p *Provider) classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid,
				p.config.Name+": request rejected", reelerr.FieldProvider(p.config.Name))
		}
	}
	return reelerr.Wrap(err, reelerr.CodeProviderUpstreamFailure,
		p.config.Name+": request failed", reelerr.FieldProvider(p.config.Name))
}
