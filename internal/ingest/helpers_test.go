// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest_test

import (
	"context"
	"errors"
	"image"
	"iter"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/ingest"
	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/security/scanner"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const testDim = 3

// fakeDecoder serves grey frames for a fixed Metadata and writes a stub
// audio file on extraction.
type fakeDecoder struct {
	meta       media.Metadata
	probeErr   error
	extractErr error
}

func (d *fakeDecoder) Probe(context.Context, string) (media.Metadata, error) {
	if d.probeErr != nil {
		return media.Metadata{}, d.probeErr
	}
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

func (d *fakeDecoder) ExtractAudio(_ context.Context, _, dst string) error {
	if d.extractErr != nil {
		return d.extractErr
	}
	return os.WriteFile(dst, []byte("RIFF"), 0o600)
}

// thirtyFPS is 10 s at 30 fps: five samples at a 2 s interval.
func thirtyFPS(hasAudio bool) media.Metadata {
	return media.Metadata{Width: 2, Height: 2, FPS: 30, TotalFrames: 300, Duration: 10, HasAudio: hasAudio}
}

type describeFunc func(ctx context.Context, img image.Image) (string, error)

func (f describeFunc) Describe(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// countingDescriber names frames in call order.
func countingDescriber() provider.Describer {
	var mu sync.Mutex
	n := 0
	return describeFunc(func(context.Context, image.Image) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "frame description " + string(rune('a'+n-1)), nil
	})
}

type fakeEmbedder struct {
	mu    sync.Mutex
	types []provider.InputType
	fail  func(text string) bool
}

func (e *fakeEmbedder) Embed(_ context.Context, text string, it provider.InputType) ([]float32, error) {
	e.mu.Lock()
	e.types = append(e.types, it)
	e.mu.Unlock()
	if e.fail != nil && e.fail(text) {
		return nil, reelerr.CallFailure(reelerr.RoleEmbedder, errors.New("embedder down"))
	}
	return []float32{1, float32(len(text)%5) + 1, 0.5}, nil
}

type transcribeFunc func(ctx context.Context, path string) ([]provider.Fragment, error)

func (f transcribeFunc) Transcribe(ctx context.Context, path string) ([]provider.Fragment, error) {
	return f(ctx, path)
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Publish(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recorder) last(t *testing.T) progress.Event {
	t.Helper()
	all := r.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

// countingIndex counts Insert calls. A non-nil afterInsert runs once each
// insert has landed.
type countingIndex struct {
	*store.MemoryIndex
	mu          sync.Mutex
	inserts     []int
	afterInsert func(scope string)
}

func (c *countingIndex) Insert(ctx context.Context, scope string, obs []store.Observation) (int, error) {
	c.mu.Lock()
	c.inserts = append(c.inserts, len(obs))
	hook := c.afterInsert
	c.mu.Unlock()
	n, err := c.MemoryIndex.Insert(ctx, scope, obs)
	if err == nil && hook != nil {
		hook(scope)
	}
	return n, err
}

type harness struct {
	pipeline *ingest.Pipeline
	videos   *store.MemoryVideoStore
	index    *countingIndex
	decoder  *fakeDecoder
	embedder *fakeEmbedder
	events   *recorder
}

type option func(*ingest.Deps, *ingest.Config)

func withDescriber(d provider.Describer) option {
	return func(deps *ingest.Deps, _ *ingest.Config) { deps.Describer = d }
}

func withTranscriber(tr provider.Transcriber) option {
	return func(deps *ingest.Deps, _ *ingest.Config) { deps.Transcriber = tr }
}

func withScanner(g *scanner.Guard) option {
	return func(deps *ingest.Deps, _ *ingest.Config) { deps.Scanner = g }
}

func withConfig(fn func(*ingest.Config)) option {
	return func(_ *ingest.Deps, cfg *ingest.Config) { fn(cfg) }
}

func newHarness(t *testing.T, meta media.Metadata, opts ...option) *harness {
	t.Helper()
	h := &harness{
		videos:   store.NewMemoryVideoStore(),
		index:    &countingIndex{MemoryIndex: store.NewMemoryIndex()},
		decoder:  &fakeDecoder{meta: meta},
		embedder: &fakeEmbedder{},
		events:   &recorder{},
	}
	require.NoError(t, h.index.Open(context.Background(), testDim, store.MetricCosine))

	deps := ingest.Deps{
		Videos:    h.videos,
		Index:     h.index,
		Sampler:   media.NewSampler(h.decoder),
		Describer: countingDescriber(),
		Embedder:  h.embedder,
		Events:    h.events,
	}
	cfg := ingest.Config{FrameInterval: 2, BatchSize: 5, AudioEnabled: true, TempDir: t.TempDir()}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	p, err := ingest.New(deps, cfg)
	require.NoError(t, err)
	h.pipeline = p
	t.Cleanup(p.Wait)
	return h
}

func (h *harness) register(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, h.videos.Upsert(context.Background(), &store.VideoRecord{
		ID: id, Name: id + ".mp4", SourcePath: "/videos/" + id + ".mp4", Status: store.StatusPending,
	}))
}

func (h *harness) record(t *testing.T, id string) *store.VideoRecord {
	t.Helper()
	rec, err := h.videos.Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (h *harness) count(t *testing.T, scope string) int {
	t.Helper()
	n, err := h.index.Count(context.Background(), scope)
	require.NoError(t, err)
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
}
