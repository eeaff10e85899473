// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/secrets"
	"github.com/sigil-dev/reel/internal/server"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

type mapSecrets struct {
	mu   sync.Mutex
	data map[string]string
	fail error
}

func (m *mapSecrets) Store(service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[service+"/"+key] = value
	return nil
}

func (m *mapSecrets) Retrieve(service, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[service+"/"+key]
	if !ok {
		return "", reelerr.New(reelerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mapSecrets) Delete(service, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, service+"/"+key)
	return nil
}

func (m *mapSecrets) List(string) ([]string, error) { return nil, nil }

func TestRegisterConfig_RequiresDeps(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.srv.RegisterConfig(nil))
	assert.Error(t, f.srv.RegisterConfig(&server.ConfigDeps{Secrets: &mapSecrets{}}))
}

func TestConfigureProvider(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]any
		validate  error
		storeErr  error
		wantCode  int
		wantStore bool
	}{
		{
			name:      "valid key is stored",
			body:      map[string]any{"type": "openai", "api_key": "sk-good"},
			wantCode:  http.StatusOK,
			wantStore: true,
		},
		{
			name:     "rejected key",
			body:     map[string]any{"type": "anthropic", "api_key": "bad"},
			validate: reelerr.New(reelerr.CodeProviderKeyInvalid, "401"),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "provider unreachable",
			body:     map[string]any{"type": "google", "api_key": "k"},
			validate: reelerr.Wrap(errors.New("dial tcp"), reelerr.CodeProviderKeyCheckFailed, "checking key"),
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "keyring failure",
			body:     map[string]any{"type": "openai", "api_key": "k"},
			storeErr: errors.New("keyring locked"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "unknown provider type",
			body:     map[string]any{"type": "acme", "api_key": "k"},
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "empty key",
			body:     map[string]any{"type": "openai", "api_key": ""},
			wantCode: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			store := &mapSecrets{fail: tt.storeErr}
			var validated string
			require.NoError(t, f.srv.RegisterConfig(&server.ConfigDeps{
				Secrets: store,
				Validate: func(_ context.Context, name, key string) error {
					validated = name + ":" + key
					return tt.validate
				},
			}))

			w := f.do(t, http.MethodPost, "/api/v1/config/providers", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if !tt.wantStore {
				return
			}

			assert.Equal(t, "openai:sk-good", validated)
			got, err := store.Retrieve(secrets.ServiceName, secrets.ProviderKeyName("openai"))
			require.NoError(t, err)
			assert.Equal(t, "sk-good", got)

			resp := decode[struct {
				Status string `json:"status"`
				Ref    string `json:"ref"`
			}](t, w)
			assert.Equal(t, "ok", resp.Status)
			assert.Equal(t, secrets.ProviderKeyURI("openai"), resp.Ref)
		})
	}
}
