// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/secrets"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// KeyValidator confirms an API key against the named provider.
type KeyValidator func(ctx context.Context, providerName, key string) error

// DefaultKeyValidator checks keys against the providers' live APIs.
func DefaultKeyValidator(client *http.Client) KeyValidator {
	return func(ctx context.Context, providerName, key string) error {
		return provider.ValidateKey(ctx, client, providerName, key, "")
	}
}

// ConfigDeps holds dependencies for configuration endpoints.
// Separated from Services because they need secret storage and live key
// validation rather than the index.
type ConfigDeps struct {
	Secrets  secrets.Store
	Validate KeyValidator
}

// RegisterConfig enables the provider key endpoint.
func (s *Server) RegisterConfig(deps *ConfigDeps) error {
	if deps == nil || deps.Secrets == nil || deps.Validate == nil {
		return reelerr.New(reelerr.CodeServerConfigInvalid, "config endpoints need a secret store and a key validator")
	}
	s.config = deps

	huma.Register(s.api, huma.Operation{
		OperationID: "configure-provider",
		Method:      http.MethodPost,
		Path:        "/api/v1/config/providers",
		Summary:     "Validate and store a provider API key",
		Description: "The key is written to the OS keyring and takes effect on the next restart.",
		Tags:        []string{"config"},
		Errors:      []int{http.StatusBadRequest, http.StatusBadGateway},
	}, s.handleConfigureProvider)
	return nil
}

type configureProviderInput struct {
	Body struct {
		Type   string `json:"type" doc:"Provider type" enum:"openai,anthropic,google,whisper,openrouter,nim" required:"true"`
		APIKey string `json:"api_key" doc:"Provider API key" minLength:"1" required:"true"`
	}
}

type configureProviderOutput struct {
	Body struct {
		Status   string `json:"status" doc:"Result status" example:"ok"`
		Provider string `json:"provider" doc:"Configured provider type"`
		Ref      string `json:"ref" doc:"Value to use as providers.<type>.api_key"`
	}
}

func (s *Server) handleConfigureProvider(ctx context.Context, input *configureProviderInput) (*configureProviderOutput, error) {
	name := input.Body.Type

	if err := s.config.Validate(ctx, name, input.Body.APIKey); err != nil {
		if reelerr.IsUnauthorized(err) {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid %s API key", name))
		}
		slog.Error("provider key validation failed", "provider", name, "error", err)
		return nil, huma.Error502BadGateway(fmt.Sprintf("could not validate %s API key", name))
	}

	if err := s.config.Secrets.Store(secrets.ServiceName, secrets.ProviderKeyName(name), input.Body.APIKey); err != nil {
		slog.Error("storing provider key", "provider", name, "error", err)
		return nil, huma.Error500InternalServerError("failed to store API key")
	}
	slog.Info("provider API key configured", "provider", name)

	out := &configureProviderOutput{}
	out.Body.Status = "ok"
	out.Body.Provider = name
	out.Body.Ref = secrets.ProviderKeyURI(name)
	return out, nil
}
