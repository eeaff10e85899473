// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"image"
)

// InputType tells asymmetric embedding models which side of a retrieval
// pair the text is on.
type InputType string

const (
	InputPassage InputType = "passage"
	InputQuery   InputType = "query"
)

// Describer turns a single video frame into a natural-language description.
type Describer interface {
	Describe(ctx context.Context, img image.Image) (string, error)
}

// Embedder maps text to a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string, inputType InputType) ([]float32, error)
}

// Synthesizer answers a question from timestamped context.
type Synthesizer interface {
	Generate(ctx context.Context, question string, items []ContextItem, systemPrompt string) (string, error)
}

// Transcriber converts an audio file into timed fragments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Fragment, error)
}

// ContextItem is one retrieved observation handed to a Synthesizer.
type ContextItem struct {
	Timestamp float64
	Text      string
	// Label, when set, is rendered as a "[label] " prefix (cross-video search).
	Label string
}

// Fragment is one transcribed span of speech.
type Fragment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Provider is a configured backend account (OpenAI, Anthropic, ...). The
// roles it can serve are discovered through the capability interfaces below.
type Provider interface {
	Name() string
	Available(ctx context.Context) bool
	Status(ctx context.Context) (ProviderStatus, error)
	Close() error
}

// VisionProvider can describe frames.
type VisionProvider interface {
	Provider
	Describer(model string) Describer
}

// EmbeddingProvider can embed text.
type EmbeddingProvider interface {
	Provider
	Embedder(model string) Embedder
}

// ChatProvider can synthesize answers.
type ChatProvider interface {
	Provider
	Synthesizer(model string) Synthesizer
}

// SpeechProvider can transcribe audio.
type SpeechProvider interface {
	Provider
	Transcriber(model string) Transcriber
}

// ProviderStatus indicates provider health.
type ProviderStatus struct {
	Available bool           `json:"available"`
	Provider  string         `json:"provider"`
	Message   string         `json:"message"`
	Roles     []string       `json:"roles"`
	Health    *HealthMetrics `json:"health,omitempty"`
}

// Roles lists the capabilities p implements, in pipeline order.
func Roles(p Provider) []string {
	var roles []string
	if _, ok := p.(VisionProvider); ok {
		roles = append(roles, "describer")
	}
	if _, ok := p.(EmbeddingProvider); ok {
		roles = append(roles, "embedder")
	}
	if _, ok := p.(ChatProvider); ok {
		roles = append(roles, "synthesizer")
	}
	if _, ok := p.(SpeechProvider); ok {
		roles = append(roles, "transcriber")
	}
	return roles
}
