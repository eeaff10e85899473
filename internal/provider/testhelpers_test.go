// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"image"

	"github.com/sigil-dev/reel/internal/provider"
)

// mockProviderBase provides a reusable base implementation of provider.Provider
// for use in tests. Embed this in test-specific mocks and override methods as needed.
type mockProviderBase struct {
	name      string
	available bool
	closed    bool
}

func (m *mockProviderBase) Name() string                   { return m.name }
func (m *mockProviderBase) Available(context.Context) bool { return m.available }
func (m *mockProviderBase) Close() error                   { m.closed = true; return nil }
func (m *mockProviderBase) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.available, Provider: m.name, Message: "ok"}, nil
}

// mockFullProvider serves every role with canned outputs.
type mockFullProvider struct {
	*mockProviderBase
	lastModel string
}

func (m *mockFullProvider) Describer(model string) provider.Describer {
	m.lastModel = model
	return describeFunc(func(context.Context, image.Image) (string, error) { return "a frame", nil })
}

func (m *mockFullProvider) Embedder(model string) provider.Embedder {
	m.lastModel = model
	return embedFunc(func(context.Context, string, provider.InputType) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})
}

func (m *mockFullProvider) Synthesizer(model string) provider.Synthesizer {
	m.lastModel = model
	return synthFunc(func(context.Context, string, []provider.ContextItem, string) (string, error) {
		return "answer", nil
	})
}

func (m *mockFullProvider) Transcriber(model string) provider.Transcriber {
	m.lastModel = model
	return transcribeFunc(func(context.Context, string) ([]provider.Fragment, error) {
		return []provider.Fragment{{Start: 0, End: 1, Text: "hi"}}, nil
	})
}

type describeFunc func(context.Context, image.Image) (string, error)

func (f describeFunc) Describe(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

type embedFunc func(context.Context, string, provider.InputType) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string, it provider.InputType) ([]float32, error) {
	return f(ctx, text, it)
}

type synthFunc func(context.Context, string, []provider.ContextItem, string) (string, error)

func (f synthFunc) Generate(ctx context.Context, q string, items []provider.ContextItem, sp string) (string, error) {
	return f(ctx, q, items, sp)
}

type transcribeFunc func(context.Context, string) ([]provider.Fragment, error)

func (f transcribeFunc) Transcribe(ctx context.Context, path string) ([]provider.Fragment, error) {
	return f(ctx, path)
}
