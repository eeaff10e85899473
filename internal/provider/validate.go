// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// keyCheck describes how to confirm an API key for one provider kind.
type keyCheck struct {
	url     string
	headers func(key string) map[string]string
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

var keyChecks = map[string]keyCheck{
	"openai":     {url: "https://api.openai.com/v1/models", headers: bearer},
	"whisper":    {url: "https://api.openai.com/v1/models", headers: bearer},
	"openrouter": {url: "https://openrouter.ai/api/v1/models", headers: bearer},
	"nim":        {url: "https://integrate.api.nvidia.com/v1/models", headers: bearer},
	"anthropic": {url: "https://api.anthropic.com/v1/models", headers: func(key string) map[string]string {
		return map[string]string{"x-api-key": key, "anthropic-version": "2023-06-01"}
	}},
	// Google's Generative Language API authenticates via query parameter.
	"google": {url: "https://generativelanguage.googleapis.com/v1/models?key=", headers: nil},
}

// CanValidateKey reports whether ValidateKey knows how to check name.
func CanValidateKey(name string) bool {
	_, ok := keyChecks[name]
	return ok
}

// ValidateKey makes a lightweight call to the provider's models endpoint to
// confirm the API key. endpoint overrides the default base when non-empty
// (OpenAI-compatible servers), and is expected to serve GET <endpoint>/models.
func ValidateKey(ctx context.Context, client *http.Client, name, key, endpoint string) error {
	check, ok := keyChecks[name]
	if !ok {
		return reelerr.Errorf(reelerr.CodeProviderNotFound, "cannot validate keys for provider %q", name)
	}

	url := check.url
	if endpoint != "" {
		url = endpoint + "/models"
		if check.headers == nil {
			url += "?key="
		}
	}
	if check.headers == nil {
		url += key
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return reelerr.Errorf(reelerr.CodeProviderKeyCheckFailed, "building validation request: %w", err)
	}
	if check.headers != nil {
		for k, v := range check.headers(key) {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return reelerr.Errorf(reelerr.CodeProviderKeyCheckFailed, "validating %s key: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return reelerr.Errorf(reelerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return reelerr.Errorf(reelerr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", name, resp.StatusCode)
	}
	return nil
}
