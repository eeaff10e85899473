// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai_test

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/provider/openai"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

var (
	_ provider.VisionProvider    = (*openai.Provider)(nil)
	_ provider.EmbeddingProvider = (*openai.Provider)(nil)
	_ provider.ChatProvider      = (*openai.Provider)(nil)
)

// fakeAPI records request bodies per path and replies with canned JSON.
type fakeAPI struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
	status int
	reply  map[string]string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		bodies: map[string][]map[string]any{},
		status: http.StatusOK,
		reply: map[string]string{
			"/chat/completions": `{"id":"c1","object":"chat.completion","created":0,"model":"m",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  a dog runs  "}}]}`,
			"/embeddings": `{"object":"list","model":"m","usage":{"prompt_tokens":1,"total_tokens":1},
				"data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}]}`,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)
		status := f.status
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			return
		}
		_, _ = io.WriteString(w, f.reply[r.URL.Path])
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) last(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[path]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func newProvider(t *testing.T, name, baseURL string) *openai.Provider {
	t.Helper()
	p, err := openai.New(openai.Config{Name: name, APIKey: "test-key-not-real", BaseURL: baseURL})
	require.NoError(t, err)
	return p
}

func TestNew_MissingAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "openai", wantErr: true},
		{name: "nim", wantErr: true},
		{name: "openrouter", wantErr: true},
		{name: "ollama", wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openai.New(openai.Config{Name: tt.name})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "api_key")
			assert.True(t, reelerr.HasCode(err, reelerr.CodeProviderRequestInvalid))
		})
	}
}

func TestRegisteredKinds(t *testing.T) {
	tests := []struct {
		kind     string
		endpoint string
	}{
		{kind: "openai", endpoint: ""},
		{kind: "openrouter", endpoint: "https://openrouter.ai/api/v1"},
		{kind: "ollama", endpoint: "http://localhost:11434/v1"},
		{kind: "nim", endpoint: "https://integrate.api.nvidia.com/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Contains(t, provider.Factories(), tt.kind)
			endpoint, ok := openai.DefaultEndpoint(tt.kind)
			require.True(t, ok)
			assert.Equal(t, tt.endpoint, endpoint)
		})
	}
}

func TestRegistryOpen_UsesKindName(t *testing.T) {
	r := provider.NewRegistry(provider.DefaultRetryPolicy())
	require.NoError(t, r.Open(context.Background(), provider.Settings{Name: "ollama"}))

	p, err := r.Get("ollama")
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.ElementsMatch(t, []string{"describer", "embedder", "synthesizer"}, provider.Roles(p))
}

func TestDescribe(t *testing.T) {
	api, srv := newFakeAPI(t)
	p := newProvider(t, "openai", srv.URL)

	got, err := p.Describer("gpt-4o-mini").Describe(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Equal(t, "a dog runs", got)

	body := api.last("/chat/completions")
	require.NotNil(t, body)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, provider.DescribeMaxTokens, body["max_tokens"])
	assert.InDelta(t, provider.DescribeTemperature, body["temperature"], 1e-9)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, provider.DescribePrompt, parts[0].(map[string]any)["text"])
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
}

func TestGenerate(t *testing.T) {
	api, srv := newFakeAPI(t)
	p := newProvider(t, "openrouter", srv.URL)

	items := []provider.ContextItem{{Timestamp: 65, Text: "a dog runs"}}
	got, err := p.Synthesizer("anthropic/claude-3.5-sonnet").Generate(context.Background(), "what runs?", items, "")
	require.NoError(t, err)
	assert.Equal(t, "a dog runs", got)

	body := api.last("/chat/completions")
	assert.Equal(t, "anthropic/claude-3.5-sonnet", body["model"])
	assert.EqualValues(t, provider.SynthesizeMaxTokens, body["max_tokens"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, provider.DefaultSystemPrompt, msgs[0].(map[string]any)["content"])
	assert.Equal(t, provider.UserMessage("what runs?", items), msgs[1].(map[string]any)["content"])
}

func TestEmbed_InputType(t *testing.T) {
	tests := []struct {
		name          string
		kind          string
		model         string
		inputType     provider.InputType
		wantInputType any
	}{
		{name: "openai omits input_type", kind: "openai", model: "text-embedding-3-small", inputType: provider.InputQuery, wantInputType: nil},
		{name: "nim passage", kind: "nim", model: "nvidia/nv-embedqa-e5-v5", inputType: provider.InputPassage, wantInputType: "passage"},
		{name: "nvidia model via openrouter", kind: "openrouter", model: "nvidia/llama-embed", inputType: provider.InputQuery, wantInputType: "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			p := newProvider(t, tt.kind, srv.URL)

			vec, err := p.Embedder(tt.model).Embed(context.Background(), "hello", tt.inputType)
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, -0.25, 1}, vec)

			body := api.last("/embeddings")
			assert.Equal(t, tt.model, body["model"])
			assert.Equal(t, "hello", body["input"])
			assert.Equal(t, tt.wantInputType, body["input_type"])
		})
	}
}

func TestEmbed_Dimensions(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  any
	}{
		{name: "text-embedding-3 is shortened", model: "text-embedding-3-small", want: float64(1024)},
		{name: "other models keep native width", model: "nvidia/nv-embedqa-e5-v5", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			p, err := openai.New(openai.Config{APIKey: "test-key-not-real", BaseURL: srv.URL, Dimensions: 1024})
			require.NoError(t, err)

			_, err = p.Embedder(tt.model).Embed(context.Background(), "hello", provider.InputPassage)
			require.NoError(t, err)
			assert.Equal(t, tt.want, api.last("/embeddings")["dimensions"])
		})
	}
}

func TestErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status      int
		wantInvalid bool
	}{
		{status: http.StatusBadRequest, wantInvalid: true},
		{status: http.StatusInternalServerError, wantInvalid: false},
		{status: http.StatusTooManyRequests, wantInvalid: false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.mu.Lock()
			api.status = tt.status
			api.mu.Unlock()
			p := newProvider(t, "openai", srv.URL)

			_, err := p.Embedder("m").Embed(context.Background(), "x", provider.InputQuery)
			require.Error(t, err)
			assert.Equal(t, tt.wantInvalid, reelerr.IsInvalidInput(err))
			assert.Equal(t, !tt.wantInvalid, reelerr.IsUpstreamFailure(err))
		})
	}
}
