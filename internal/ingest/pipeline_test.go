// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest_test

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/reel/internal/ingest"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// ---------------------------------------------------------------------------
// Full runs
// ---------------------------------------------------------------------------

func TestRun_IndexesSampledFrames(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))

	rec := h.record(t, "v1")
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.Equal(t, 5, rec.ExpectedSamples)
	assert.Equal(t, 5, rec.Processed)
	assert.Equal(t, 300, rec.TotalFrames)
	assert.InDelta(t, 30.0, rec.FPS, 1e-9)
	assert.False(t, rec.ProcessedAt.IsZero())
	assert.Empty(t, rec.Error)
	assert.Equal(t, 5, h.count(t, "v1"))

	for _, it := range h.embedder.types {
		assert.Equal(t, provider.InputPassage, it)
	}

	events := h.events.all()
	require.Len(t, events, 7, "start + one per frame + completion")
	assert.Equal(t, store.StatusProcessing, events[0].Status)
	assert.Equal(t, 0, events[0].Current)
	assert.Equal(t, 5, events[0].Total)

	var stamps []float64
	for _, e := range events[1:6] {
		assert.Equal(t, store.StatusProcessing, e.Status)
		stamps = append(stamps, e.Timestamp)
	}
	assert.Equal(t, []float64{0, 2, 4, 6, 8}, stamps)
	assert.Equal(t, "Processed frame at 00:08", events[5].Message)

	final := events[6]
	assert.Equal(t, store.StatusCompleted, final.Status)
	assert.Equal(t, ingest.MessageComplete, final.Message)
	assert.Equal(t, 5, final.Current)
	assert.True(t, final.Terminal())
}

func TestRun_RerunDoesNotAccumulate(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "v1")

	for range 3 {
		require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	}
	assert.Equal(t, 5, h.count(t, "v1"))
}

func TestRun_FlushesInBatches(t *testing.T) {
	h := newHarness(t, thirtyFPS(false), withConfig(func(c *ingest.Config) { c.BatchSize = 2 }))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	assert.Equal(t, []int{2, 2, 1}, h.index.inserts)
}

func TestRun_UnreadableSourceFailsWithoutProcessing(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.decoder.probeErr = reelerr.New(reelerr.CodeMediaSourceUnreadable, "cannot open video")
	h.register(t, "v1")

	err := h.pipeline.Run(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, reelerr.IsSourceUnreadable(err))

	rec := h.record(t, "v1")
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "cannot open video")

	events := h.events.all()
	require.Len(t, events, 1, "exactly one failed event")
	assert.Equal(t, store.StatusFailed, events[0].Status)
	assert.Contains(t, events[0].Message, "cannot open video")
}

func TestRun_FrameFailuresAreSkipped(t *testing.T) {
	var calls int
	var mu sync.Mutex
	flaky := describeFunc(func(context.Context, image.Image) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return "", reelerr.CallFailure(reelerr.RoleDescriber, errors.New("vision model timeout"))
		}
		return "a person walks", nil
	})
	h := newHarness(t, thirtyFPS(false), withDescriber(flaky))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	assert.Equal(t, 4, h.count(t, "v1"))
	assert.Equal(t, 4, h.record(t, "v1").Processed)
	assert.Equal(t, store.StatusCompleted, h.events.last(t).Status)
}

func TestRun_EmptyResultIsFatal(t *testing.T) {
	failing := describeFunc(func(context.Context, image.Image) (string, error) {
		return "", reelerr.CallFailure(reelerr.RoleDescriber, errors.New("unauthorized"))
	})
	h := newHarness(t, thirtyFPS(false), withDescriber(failing))
	h.register(t, "v1")

	err := h.pipeline.Run(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, reelerr.IsEmptyResult(err))

	rec := h.record(t, "v1")
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Equal(t, err.Error(), rec.Error)

	last := h.events.last(t)
	assert.Equal(t, store.StatusFailed, last.Status)
	assert.Equal(t, err.Error(), last.Message)
}

func TestRun_PanicIsRecoveredAsFailure(t *testing.T) {
	boom := describeFunc(func(context.Context, image.Image) (string, error) { panic("decoder exploded") })
	h := newHarness(t, thirtyFPS(false), withDescriber(boom))
	h.register(t, "v1")

	err := h.pipeline.Run(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, reelerr.HasCode(err, reelerr.CodeIngestRunPanic))
	assert.Equal(t, store.StatusFailed, h.record(t, "v1").Status)
	assert.False(t, h.pipeline.Running("v1"))
	assert.Contains(t, h.events.last(t).Message, "decoder exploded")
}

func TestRun_UnknownScope(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	err := h.pipeline.Run(context.Background(), "missing")
	assert.True(t, reelerr.IsNotFound(err))
	assert.Empty(t, h.events.all())
}

// ---------------------------------------------------------------------------
// Audio
// ---------------------------------------------------------------------------

func speech() provider.Transcriber {
	return transcribeFunc(func(context.Context, string) ([]provider.Fragment, error) {
		return []provider.Fragment{
			{Start: 0, End: 4, Text: "hello"},
			{Start: 4, End: 11, Text: "world"},
			{Start: 11, End: 13, Text: "bye"},
		}, nil
	})
}

func TestRun_AudioPassAddsWindows(t *testing.T) {
	h := newHarness(t, thirtyFPS(true), withTranscriber(speech()))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	assert.Equal(t, 7, h.count(t, "v1"), "5 frames + 2 audio windows")

	results, err := h.index.Search(context.Background(), []float32{1, 1, 0.5}, "v1", 10)
	require.NoError(t, err)
	var audio []store.SearchResult
	for _, r := range results {
		if r.Kind == store.KindAudio {
			audio = append(audio, r)
		}
	}
	require.Len(t, audio, 2)
	for _, r := range audio {
		assert.True(t, strings.HasPrefix(r.Text, ingest.AudioPrefix), r.Text)
	}
	assert.Equal(t, store.StatusCompleted, h.events.last(t).Status)
	assert.Equal(t, 5, h.record(t, "v1").Processed, "processed counts visual frames")
}

func TestRun_AudioFailureIsNotFatal(t *testing.T) {
	broken := transcribeFunc(func(context.Context, string) ([]provider.Fragment, error) {
		return nil, reelerr.CallFailure(reelerr.RoleTranscriber, errors.New("whisper 503"))
	})
	h := newHarness(t, thirtyFPS(true), withTranscriber(broken))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	assert.Equal(t, 5, h.count(t, "v1"))
	assert.Equal(t, store.StatusCompleted, h.record(t, "v1").Status)
}

func TestRun_AudioSkippedWithoutAudioStream(t *testing.T) {
	called := false
	tr := transcribeFunc(func(context.Context, string) ([]provider.Fragment, error) {
		called = true
		return nil, nil
	})
	h := newHarness(t, thirtyFPS(false), withTranscriber(tr))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))
	assert.False(t, called)
}

func TestRunAudio_ReplacesAudioObservations(t *testing.T) {
	h := newHarness(t, thirtyFPS(true), withTranscriber(speech()))
	h.register(t, "v1")
	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))

	require.NoError(t, h.pipeline.RunAudio(context.Background(), "v1"))
	require.NoError(t, h.pipeline.RunAudio(context.Background(), "v1"))

	assert.Equal(t, 7, h.count(t, "v1"))
	last := h.events.last(t)
	assert.Equal(t, store.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "2 segments")
}

func TestRunAudio_RequiresTranscriber(t *testing.T) {
	h := newHarness(t, thirtyFPS(true))
	h.register(t, "v1")

	err := h.pipeline.RunAudio(context.Background(), "v1")
	assert.True(t, reelerr.HasCode(err, reelerr.CodeIngestAudioUnavailable))
	assert.True(t, reelerr.IsInvalidInput(err))
}

func TestRunAudio_FailureKeepsStatus(t *testing.T) {
	h := newHarness(t, thirtyFPS(true), withTranscriber(speech()))
	h.register(t, "v1")
	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))

	h.decoder.extractErr = reelerr.New(reelerr.CodeMediaAudioExtract, "ffmpeg exploded")
	require.Error(t, h.pipeline.RunAudio(context.Background(), "v1"))

	rec := h.record(t, "v1")
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.Contains(t, rec.Error, "ffmpeg exploded")

	last := h.events.last(t)
	assert.Equal(t, rec.Status, last.Status, "event status matches the persisted status")
	assert.Contains(t, last.Message, "ffmpeg exploded")
}

func TestConsolidate(t *testing.T) {
	tests := []struct {
		name  string
		frags []provider.Fragment
		want  []ingest.Window
	}{
		{name: "empty", frags: nil, want: nil},
		{
			name: "accumulates until span reached",
			frags: []provider.Fragment{
				{Start: 0, End: 3, Text: "a"},
				{Start: 3, End: 7, Text: " b "},
				{Start: 7, End: 10, Text: "c"},
				{Start: 10, End: 12, Text: "d"},
			},
			want: []ingest.Window{
				{Start: 0, End: 10, Text: "a b c"},
				{Start: 10, End: 12, Text: "d"},
			},
		},
		{
			name: "long fragment is its own window",
			frags: []provider.Fragment{
				{Start: 5, End: 40, Text: "monologue"},
				{Start: 40, End: 41, Text: "end"},
			},
			want: []ingest.Window{
				{Start: 5, End: 40, Text: "monologue"},
				{Start: 40, End: 41, Text: "end"},
			},
		},
		{
			name:  "blank fragments dropped",
			frags: []provider.Fragment{{Start: 0, End: 20, Text: "  "}, {Start: 20, End: 22, Text: "hi"}},
			want:  []ingest.Window{{Start: 20, End: 22, Text: "hi"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ingest.Consolidate(tt.frags, 10*time.Second))
		})
	}
}

// ---------------------------------------------------------------------------
// Background runs
// ---------------------------------------------------------------------------

// gate blocks Describe until released or cancelled.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) Describe(ctx context.Context, _ image.Image) (string, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return "frame", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestStart_RejectsSecondRun(t *testing.T) {
	g := newGate()
	h := newHarness(t, thirtyFPS(false), withDescriber(g))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Start(context.Background(), "v1"))
	<-g.entered
	assert.True(t, h.pipeline.Running("v1"))

	err := h.pipeline.Start(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, reelerr.IsConflict(err))
	assert.Equal(t, 409, reelerr.HTTPStatus(err))

	close(g.release)
	h.pipeline.Wait()
	assert.False(t, h.pipeline.Running("v1"))
	assert.Equal(t, store.StatusCompleted, h.record(t, "v1").Status)
}

func TestStart_OutlivesRequestContext(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "v1")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.pipeline.Start(ctx, "v1"))
	cancel()
	h.pipeline.Wait()

	assert.Equal(t, store.StatusCompleted, h.record(t, "v1").Status)
}

func TestStart_UnknownScope(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	err := h.pipeline.Start(context.Background(), "missing")
	assert.True(t, reelerr.IsNotFound(err))
}

func TestStart_ScopesRunConcurrently(t *testing.T) {
	g := newGate()
	h := newHarness(t, thirtyFPS(false), withDescriber(g))
	h.register(t, "a")
	h.register(t, "b")

	require.NoError(t, h.pipeline.Start(context.Background(), "a"))
	require.NoError(t, h.pipeline.Start(context.Background(), "b"))
	waitFor(t, func() bool { return h.pipeline.Running("a") && h.pipeline.Running("b") })

	close(g.release)
	h.pipeline.Wait()
	assert.Equal(t, 5, h.count(t, "a"))
	assert.Equal(t, 5, h.count(t, "b"))
}

func TestStop_ResetsToPending(t *testing.T) {
	g := newGate()
	h := newHarness(t, thirtyFPS(false), withDescriber(g))
	h.register(t, "v1")

	require.NoError(t, h.pipeline.Start(context.Background(), "v1"))
	<-g.entered
	require.Equal(t, store.StatusProcessing, h.record(t, "v1").Status)

	require.NoError(t, h.pipeline.Stop(context.Background(), "v1"))
	h.pipeline.Wait()

	assert.False(t, h.pipeline.Running("v1"))
	assert.Equal(t, store.StatusPending, h.record(t, "v1").Status)
	last := h.events.last(t)
	assert.Equal(t, store.StatusPending, last.Status)
	assert.Equal(t, ingest.MessageStopped, last.Message)
	assert.True(t, last.Terminal())
}

func TestStop_AfterLastBatchKeepsPending(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "v1")

	var once sync.Once
	h.index.afterInsert = func(scope string) {
		once.Do(func() { require.NoError(t, h.pipeline.Stop(context.Background(), scope)) })
	}

	require.NoError(t, h.pipeline.Run(context.Background(), "v1"))

	assert.Equal(t, store.StatusPending, h.record(t, "v1").Status)
	last := h.events.last(t)
	assert.Equal(t, store.StatusPending, last.Status)
	assert.Equal(t, ingest.MessageStopped, last.Message)
}

func TestStop_NotRunning(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "v1")

	err := h.pipeline.Stop(context.Background(), "v1")
	assert.True(t, reelerr.IsConflict(err))

	err = h.pipeline.Stop(context.Background(), "missing")
	assert.True(t, reelerr.IsNotFound(err))
}

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, thirtyFPS(false))
	h.register(t, "stuck")
	h.register(t, "done")
	ctx := context.Background()
	_, err := h.videos.Update(ctx, "stuck", func(r *store.VideoRecord) error { r.Status = store.StatusProcessing; return nil })
	require.NoError(t, err)
	_, err = h.videos.Update(ctx, "done", func(r *store.VideoRecord) error { r.Status = store.StatusCompleted; return nil })
	require.NoError(t, err)

	n, err := h.pipeline.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, store.StatusPending, h.record(t, "stuck").Status)
	assert.Equal(t, store.StatusCompleted, h.record(t, "done").Status)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := ingest.New(ingest.Deps{}, ingest.Config{})
	assert.True(t, reelerr.IsInvalidInput(err))
}
