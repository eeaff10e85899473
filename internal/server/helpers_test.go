// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/server"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

type fakeIngest struct {
	mu       sync.Mutex
	started  []string
	audio    []string
	stopped  []string
	running  map[string]bool
	startErr error
	stopErr  error
}

func (f *fakeIngest) Start(_ context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, scope)
	return nil
}

func (f *fakeIngest) StartAudio(_ context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.audio = append(f.audio, scope)
	return nil
}

func (f *fakeIngest) Stop(_ context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, scope)
	delete(f.running, scope)
	return nil
}

func (f *fakeIngest) Running(scope string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[scope]
}

func (f *fakeIngest) setRunning(scope string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = map[string]bool{}
	}
	f.running[scope] = on
}

type fakeQuery struct {
	mu         sync.Mutex
	answer     retrieval.Answer
	global     retrieval.GlobalResult
	lastTopK   int
	lastScope  string
	summarized bool
}

func (f *fakeQuery) Answer(_ context.Context, scope, _ string, topK int) retrieval.Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastScope, f.lastTopK = scope, topK
	return f.answer
}

func (f *fakeQuery) GlobalSearch(_ context.Context, _ string, topK int, summarize bool) retrieval.GlobalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTopK, f.summarized = topK, summarize
	return f.global
}

type fakeMedia struct {
	meta     media.Metadata
	probeErr error
}

func (f *fakeMedia) Metadata(context.Context, string) (media.Metadata, error) {
	if f.probeErr != nil {
		return media.Metadata{}, f.probeErr
	}
	return f.meta, nil
}

func (f *fakeMedia) Thumbnail(context.Context, string, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 64, 36)), nil
}

type fakeProviders []provider.ProviderStatus

func (f fakeProviders) Statuses(context.Context) []provider.ProviderStatus { return f }

type fixture struct {
	srv      *server.Server
	videos   *store.MemoryVideoStore
	index    *store.MemoryIndex
	ingest   *fakeIngest
	query    *fakeQuery
	media    *fakeMedia
	events   *progress.Broadcaster
	dataDir  string
	handler  http.Handler
	tokenHdr string
}

type fixtureOption func(*server.Config)

func withTokens(tokens ...string) fixtureOption {
	return func(c *server.Config) { c.AuthTokens = tokens }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := server.Config{ListenAddr: "127.0.0.1:0"}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	f := &fixture{
		srv:     srv,
		videos:  store.NewMemoryVideoStore(),
		index:   store.NewMemoryIndex(),
		ingest:  &fakeIngest{},
		query:   &fakeQuery{},
		media:   &fakeMedia{meta: media.Metadata{Width: 64, Height: 36, FPS: 25, TotalFrames: 250, Duration: 10, HasAudio: true}},
		events:  progress.NewBroadcaster(),
		dataDir: t.TempDir(),
	}
	require.NoError(t, f.index.Open(context.Background(), 3, store.MetricCosine))
	require.NoError(t, srv.RegisterServices(&server.Services{
		Videos:    f.videos,
		Index:     f.index,
		Ingest:    f.ingest,
		Query:     f.query,
		Media:     f.media,
		Progress:  f.events,
		Providers: fakeProviders{{Provider: "openai", Available: true, Roles: []string{"describer"}}},
		DataDir:   f.dataDir,
	}))
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.tokenHdr != "" {
		req.Header.Set("Authorization", f.tokenHdr)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) upload(t *testing.T, filename string, content []byte, name string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) register(t *testing.T, rec *store.VideoRecord) {
	t.Helper()
	require.NoError(t, f.videos.Upsert(context.Background(), rec))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func conflict(msg string) error {
	return reelerr.New(reelerr.CodeIngestRunConflict, msg)
}
