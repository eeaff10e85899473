// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/config"
	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/secrets"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const fakeDim = 3

func init() {
	provider.RegisterFactory("fake", func(context.Context, provider.Settings) (provider.Provider, error) {
		return &fakeProvider{}, nil
	})
}

// isolate points HOME at a temp dir and resets the global viper so commands
// never touch the real user config.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	viper.Reset()
	t.Cleanup(viper.Reset)
	return home
}

// execute runs the root command with args and returns its stdout. Logs go
// to a discarded stderr buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// writeTestConfig writes a config using the fake provider, an in-memory
// index and the given registry backend, returning its path.
func writeTestConfig(t *testing.T, dataDir, videos string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reel.yaml")
	content := fmt.Sprintf(`storage:
  data_dir: %q
  videos: %s
  index:
    backend: memory
    dimensions: %d
providers:
  fake:
    api_key: test-key-not-real
models:
  describer: fake/vision
  embedder: fake/embed
  synthesizer: fake/chat
  transcriber: ""
ingest:
  audio_enabled: false
  frame_interval: 1.0
`, dataDir, videos, fakeDim)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testConfig is the decoded equivalent of writeTestConfig with an in-memory
// registry.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("storage.data_dir", t.TempDir())
	v.Set("storage.videos", "memory")
	v.Set("storage.index.backend", "memory")
	v.Set("storage.index.dimensions", fakeDim)
	v.Set("providers", map[string]any{"fake": map[string]any{"api_key": "test-key-not-real"}})
	v.Set("models.describer", "fake/vision")
	v.Set("models.embedder", "fake/embed")
	v.Set("models.synthesizer", "fake/chat")
	v.Set("models.transcriber", "")
	v.Set("ingest.audio_enabled", false)
	v.Set("retry.attempts", 1)
	v.Set("retry.backoff", time.Millisecond)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

// useFakeDecoder swaps ffmpeg for a decoder serving 3 s of 2 fps grey frames.
func useFakeDecoder(t *testing.T) {
	t.Helper()
	orig := newDecoder
	newDecoder = func(config.IngestConfig) (media.Decoder, error) {
		return &fakeDecoder{meta: media.Metadata{Width: 2, Height: 2, FPS: 2, TotalFrames: 6, Duration: 3}}, nil
	}
	t.Cleanup(func() { newDecoder = orig })
}

// useSecrets installs store as the secretStoreFactory result.
func useSecrets(t *testing.T, store secrets.Store) {
	t.Helper()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return store }
	t.Cleanup(func() { secretStoreFactory = orig })
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// mockSecretStore is an in-memory secrets.Store for testing.
type mockSecretStore struct {
	data     map[string]string
	storeErr error
}

func newMockSecretStore(keys ...string) *mockSecretStore {
	m := &mockSecretStore{data: make(map[string]string)}
	for _, k := range keys {
		m.data[k] = "redacted"
	}
	return m
}

func (m *mockSecretStore) Store(_, key, value string) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.data[key] = value
	return nil
}

func (m *mockSecretStore) Retrieve(_, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", reelerr.Errorf(reelerr.CodeSecretNotFound, "not found")
	}
	return v, nil
}

func (m *mockSecretStore) Delete(_, key string) error {
	if _, ok := m.data[key]; !ok {
		return reelerr.Errorf(reelerr.CodeSecretNotFound, "not found")
	}
	delete(m.data, key)
	return nil
}

func (m *mockSecretStore) List(_ string) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// fakeProvider serves every text and vision role without network access.
type fakeProvider struct{}

func (*fakeProvider) Name() string                        { return "fake" }
func (*fakeProvider) Available(context.Context) bool      { return true }
func (*fakeProvider) Close() error                        { return nil }
func (*fakeProvider) Describer(string) provider.Describer { return fakeModel{} }
func (*fakeProvider) Embedder(string) provider.Embedder   { return fakeModel{} }
func (*fakeProvider) Synthesizer(string) provider.Synthesizer {
	return fakeModel{}
}

func (*fakeProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: "fake", Message: "ok"}, nil
}

type fakeModel struct{}

func (fakeModel) Describe(context.Context, image.Image) (string, error) {
	return "a grey frame", nil
}

func (fakeModel) Embed(_ context.Context, text string, _ provider.InputType) ([]float32, error) {
	return []float32{1, float32(len(text)), 0.5}, nil
}

func (fakeModel) Generate(_ context.Context, question string, items []provider.ContextItem, _ string) (string, error) {
	return fmt.Sprintf("answer to %q from %d items", strings.TrimSpace(question), len(items)), nil
}

type fakeDecoder struct {
	meta media.Metadata
}

func (d *fakeDecoder) Probe(context.Context, string) (media.Metadata, error) {
	return d.meta, nil
}

func (d *fakeDecoder) Decode(_ context.Context, _ string, plan media.Plan) iter.Seq2[media.Frame, error] {
	return func(yield func(media.Frame, error) bool) {
		for idx := range plan.Indices() {
			f := media.Frame{Index: idx, Timestamp: plan.Timestamp(idx), Image: image.NewGray(image.Rect(0, 0, 2, 2))}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (d *fakeDecoder) FrameAt(context.Context, string, float64) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 2, 2)), nil
}
