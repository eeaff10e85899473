// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func init() {
	provider.RegisterFactory("anthropic", func(_ context.Context, s provider.Settings) (provider.Provider, error) {
		return New(Config{APIKey: s.APIKey, BaseURL: s.Endpoint})
	})
}

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider serves describer and synthesizer roles over the Messages API.
// Anthropic has no embeddings endpoint.
type Provider struct {
	client anthropicsdk.Client
	config Config
}

// New creates a new Anthropic provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, reelerr.New(reelerr.CodeProviderRequestInvalid,
			"anthropic: missing api_key in config", reelerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Available(_ context.Context) bool { return true }

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "anthropic",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Describer(model string) provider.Describer {
	return describeFunc(func(ctx context.Context, img image.Image) (string, error) {
		jpegBytes, err := provider.EncodeJPEG(img)
		if err != nil {
			return "", err
		}
		return p.send(ctx, describeParams(model, jpegBytes))
	})
}

func (p *Provider) Synthesizer(model string) provider.Synthesizer {
	return synthFunc(func(ctx context.Context, question string, items []provider.ContextItem, systemPrompt string) (string, error) {
		return p.send(ctx, synthesizeParams(model, question, items, systemPrompt))
	})
}

func describeParams(model string, jpegBytes []byte) anthropicsdk.MessageNewParams {
	return anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		MaxTokens:   provider.DescribeMaxTokens,
		Temperature: anthropicsdk.Float(provider.DescribeTemperature),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(
				anthropicsdk.NewImageBlockBase64("image/jpeg", base64.StdEncoding.EncodeToString(jpegBytes)),
				anthropicsdk.NewTextBlock(provider.DescribePrompt),
			),
		},
	}
}

func synthesizeParams(model, question string, items []provider.ContextItem, systemPrompt string) anthropicsdk.MessageNewParams {
	return anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(model),
		MaxTokens:   provider.SynthesizeMaxTokens,
		Temperature: anthropicsdk.Float(provider.SynthesizeTemperature),
		System: []anthropicsdk.TextBlockParam{
			{Text: provider.SystemPromptOrDefault(systemPrompt)},
		},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(provider.UserMessage(question, items))),
		},
	}
}

func (p *Provider) send(ctx context.Context, params anthropicsdk.MessageNewParams) (string, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return "", reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid,
				"anthropic: request rejected", reelerr.FieldProvider("anthropic"))
		}
		return "", reelerr.Wrap(err, reelerr.CodeProviderUpstreamFailure,
			"anthropic: request failed", reelerr.FieldProvider("anthropic"))
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", reelerr.New(reelerr.CodeProviderResponseInvalid,
			"anthropic: response had no text content", reelerr.FieldProvider("anthropic"))
	}
	return strings.TrimSpace(b.String()), nil
}

type describeFunc func(context.Context, image.Image) (string, error)

func (f describeFunc) Describe(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

type synthFunc func(context.Context, string, []provider.ContextItem, string) (string, error)

func (f synthFunc) Generate(ctx context.Context, question string, items []provider.ContextItem, systemPrompt string) (string, error) {
	return f(ctx, question, items, systemPrompt)
}
