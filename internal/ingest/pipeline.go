// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package ingest turns a registered video into observations in the
// semantic index.
//
// A run moves a video pending -> processing -> completed|failed. At most
// one run per video is in flight; runs for different videos proceed
// concurrently.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/security/scanner"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Messages carried by run events.
const (
	MessageComplete = "Processing complete!"
	MessageStopped  = "Processing stopped"
	MessageStarted  = "Processing frames..."
)

// Config tunes sampling, batching and the audio pass.
type Config struct {
	FrameInterval float64
	BatchSize     int
	AudioEnabled  bool
	AudioWindow   time.Duration
	AudioWorkers  int
	// TempDir holds extracted audio; empty means os.TempDir().
	TempDir string
}

func (c Config) withDefaults() Config {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 1.0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.AudioWindow <= 0 {
		c.AudioWindow = 10 * time.Second
	}
	if c.AudioWorkers <= 0 {
		c.AudioWorkers = 4
	}
	return c
}

// Deps are the collaborators a Pipeline drives. Transcriber may be nil,
// which disables the audio pass. A nil Scanner indexes model output as
// written.
type Deps struct {
	Videos      store.VideoStore
	Index       store.Index
	Sampler     *media.Sampler
	Describer   provider.Describer
	Embedder    provider.Embedder
	Transcriber provider.Transcriber
	Events      progress.Publisher
	Scanner     *scanner.Guard
}

// Pipeline runs ingestion.
type Pipeline struct {
	videos      store.VideoStore
	index       store.Index
	sampler     *media.Sampler
	describer   provider.Describer
	embedder    provider.Embedder
	transcriber provider.Transcriber
	events      progress.Publisher
	scan        *scanner.Guard
	cfg         Config
	guard       *runGuard
	now         func() time.Time
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Videos == nil, deps.Index == nil, deps.Sampler == nil:
		return nil, reelerr.New(reelerr.CodeConfigValidateInvalidValue, "ingest: videos, index and sampler are required")
	case deps.Describer == nil, deps.Embedder == nil:
		return nil, reelerr.New(reelerr.CodeConfigValidateInvalidValue, "ingest: describer and embedder are required")
	}
	events := deps.Events
	if events == nil {
		events = progress.NewBroadcaster()
	}
	return &Pipeline{
		videos:      deps.Videos,
		index:       deps.Index,
		sampler:     deps.Sampler,
		describer:   deps.Describer,
		embedder:    deps.Embedder,
		transcriber: deps.Transcriber,
		events:      events,
		scan:        deps.Scanner,
		cfg:         cfg.withDefaults(),
		guard:       newRunGuard(),
		now:         time.Now,
	}, nil
}

// mode selects what a run indexes.
type mode int

const (
	modeFull mode = iota
	modeAudioOnly
)

// Start launches a full run in the background and returns immediately.
func (p *Pipeline) Start(ctx context.Context, scope string) error {
	return p.start(ctx, scope, modeFull)
}

// StartAudio launches an audio-only backfill in the background.
func (p *Pipeline) StartAudio(ctx context.Context, scope string) error {
	if err := p.checkAudio(); err != nil {
		return err
	}
	return p.start(ctx, scope, modeAudioOnly)
}

func (p *Pipeline) start(ctx context.Context, scope string, m mode) error {
	rec, err := p.videos.Get(ctx, scope)
	if err != nil {
		return err
	}
	runCtx, h, err := p.guard.acquire(ctx, scope, true)
	if err != nil {
		return err
	}
	go func() {
		defer p.guard.release(scope, h)
		_ = p.execute(runCtx, h, rec, m)
	}()
	return nil
}

// Run indexes scope synchronously and returns the fatal error, if any.
func (p *Pipeline) Run(ctx context.Context, scope string) error {
	return p.run(ctx, scope, modeFull)
}

// RunAudio backfills audio observations synchronously.
func (p *Pipeline) RunAudio(ctx context.Context, scope string) error {
	if err := p.checkAudio(); err != nil {
		return err
	}
	return p.run(ctx, scope, modeAudioOnly)
}

func (p *Pipeline) run(ctx context.Context, scope string, m mode) error {
	rec, err := p.videos.Get(ctx, scope)
	if err != nil {
		return err
	}
	runCtx, h, err := p.guard.acquire(ctx, scope, false)
	if err != nil {
		return err
	}
	defer p.guard.release(scope, h)
	return p.execute(runCtx, h, rec, m)
}

func (p *Pipeline) checkAudio() error {
	if !p.audioAvailable() {
		return reelerr.New(reelerr.CodeIngestAudioUnavailable, "audio transcription is not configured")
	}
	return nil
}

// Stop cancels the run for scope and resets the video to pending. An
// in-flight model call or batch write may still complete.
func (p *Pipeline) Stop(ctx context.Context, scope string) error {
	h, running := p.guard.get(scope)
	if running {
		h.stopped.Store(true)
		h.cancel()
	}

	rec, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		if !running && r.Status != store.StatusProcessing {
			return reelerr.New(reelerr.CodeIngestNotRunning, "video is not being processed", reelerr.FieldScopeID(scope))
		}
		r.Status = store.StatusPending
		return nil
	})
	if err != nil {
		return err
	}
	if !running {
		p.emit(scope, store.StatusPending, rec.Processed, rec.ExpectedSamples, 0, MessageStopped)
	}
	slog.Info("ingestion stopped", "scope_id", scope, "was_running", running)
	return nil
}

// Running reports whether a run for scope is in flight.
func (p *Pipeline) Running(scope string) bool {
	_, ok := p.guard.get(scope)
	return ok
}

// Wait blocks until every in-flight run has returned.
func (p *Pipeline) Wait() { p.guard.wait() }

// RecoverInterrupted resets videos left in processing by a previous
// process back to pending. Call before accepting requests.
func (p *Pipeline) RecoverInterrupted(ctx context.Context) (int, error) {
	recs, err := p.videos.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	for _, rec := range recs {
		if rec.Status != store.StatusProcessing || p.Running(rec.ID) {
			continue
		}
		if _, err := p.videos.Update(ctx, rec.ID, func(r *store.VideoRecord) error {
			r.Status = store.StatusPending
			r.Error = "interrupted before completion"
			return nil
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// execute runs one admitted run and always leaves the video in a
// non-processing state.
func (p *Pipeline) execute(ctx context.Context, h *handle, rec *store.VideoRecord, m mode) (err error) {
	scope := rec.ID
	started := p.now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("ingestion panicked",
				"scope_id", scope, "panic", r, "stack", string(debug.Stack()))
			err = reelerr.Errorf(reelerr.CodeIngestRunPanic, "ingestion panicked: %v", r)
		}
		if err != nil {
			err = p.finish(ctx, h, rec, m, err)
		}
		slog.Info("ingestion finished", "scope_id", scope, "duration", p.now().Sub(started), "error", err)
	}()

	switch m {
	case modeAudioOnly:
		return p.backfillAudio(ctx, rec)
	default:
		return p.indexAll(ctx, rec)
	}
}

// finish records a failed or stopped run.
func (p *Pipeline) finish(ctx context.Context, h *handle, rec *store.VideoRecord, m mode, runErr error) error {
	scope := rec.ID
	// The run context may already be cancelled.
	ctx = context.WithoutCancel(ctx)

	if h.stopped.Load() {
		updated, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
			r.Status = store.StatusPending
			return nil
		})
		if err != nil {
			slog.Error("persisting stopped status", "scope_id", scope, "error", err)
			updated = rec
		}
		p.emit(scope, store.StatusPending, updated.Processed, updated.ExpectedSamples, 0, MessageStopped)
		return nil
	}

	msg := runErr.Error()
	status := store.StatusFailed
	if m == modeAudioOnly {
		// A failed backfill leaves the visual index and status intact.
		status = rec.Status
	}
	updated, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		r.Error = msg
		r.Status = status
		return nil
	})
	if err != nil {
		slog.Error("persisting failed status", "scope_id", scope, "error", err)
		updated = rec
	}
	slog.Warn("ingestion failed", "scope_id", scope, "error", runErr)
	// The event carries the persisted status so stream subscribers agree
	// with the status endpoint.
	p.emit(scope, status, updated.Processed, updated.ExpectedSamples, 0, msg)
	return runErr
}

// indexAll is a full run: probe, reset, visual pass, audio pass.
func (p *Pipeline) indexAll(ctx context.Context, rec *store.VideoRecord) error {
	scope := rec.ID

	meta, err := p.sampler.Metadata(ctx, rec.SourcePath)
	if err != nil {
		if !reelerr.IsSourceUnreadable(err) {
			err = reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "probing video", reelerr.FieldPath(rec.SourcePath))
		}
		return err
	}
	total := media.PlanFor(meta, p.cfg.FrameInterval, media.Range{}).Len()

	if _, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		r.Duration = meta.Duration
		r.FPS = meta.FPS
		r.Width = meta.Width
		r.Height = meta.Height
		r.HasAudio = meta.HasAudio
		r.TotalFrames = meta.TotalFrames
		r.ExpectedSamples = total
		return nil
	}); err != nil {
		return err
	}

	if _, err := p.index.Delete(ctx, scope); err != nil {
		return err
	}
	if _, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		r.Status = store.StatusProcessing
		r.Processed = 0
		r.Error = ""
		return nil
	}); err != nil {
		return err
	}
	p.emit(scope, store.StatusProcessing, 0, total, 0, MessageStarted)

	processed, err := p.visualPass(ctx, rec, total)
	if err != nil {
		return err
	}

	audio := 0
	if p.audioAvailable() && meta.HasAudio {
		audio, err = p.audioPass(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("audio pass failed", "scope_id", scope, "error", err)
			audio = 0
		}
	}

	if processed+audio == 0 {
		return reelerr.New(reelerr.CodeIngestObservationsEmpty,
			"no observations were produced for this video", reelerr.FieldScopeID(scope))
	}

	if _, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		// A Stop that lands after the last batch still wins.
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Status = store.StatusCompleted
		r.Processed = processed
		r.ProcessedAt = p.now().UTC()
		return nil
	}); err != nil {
		return err
	}
	p.emit(scope, store.StatusCompleted, processed, total, meta.Duration, MessageComplete)
	return nil
}

// visualPass describes and embeds every sampled frame, flushing in
// batches. A failed frame is skipped.
func (p *Pipeline) visualPass(ctx context.Context, rec *store.VideoRecord, total int) (int, error) {
	scope := rec.ID
	batch := make([]store.Observation, 0, p.cfg.BatchSize)
	processed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := p.index.Insert(ctx, scope, batch); err != nil {
			return err
		}
		batch = batch[:0]
		_, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
			r.Processed = processed
			return nil
		})
		return err
	}

	for frame, err := range p.sampler.Sample(ctx, rec.SourcePath, p.cfg.FrameInterval, media.Range{}) {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err != nil {
			if reelerr.IsSourceUnreadable(err) {
				return processed, err
			}
			slog.Warn("frame decode failed", "scope_id", scope, "error", err)
			continue
		}

		obs, err := p.observe(ctx, scope, frame)
		if err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			slog.Warn("skipping frame", "scope_id", scope, "frame", frame.Index, "timestamp", frame.Timestamp, "error", err)
			continue
		}

		batch = append(batch, obs)
		processed++
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return processed, err
			}
		}
		p.emit(scope, store.StatusProcessing, processed, total, frame.Timestamp,
			"Processed frame at "+provider.FormatTimestamp(frame.Timestamp))
	}
	if err := flush(); err != nil {
		return processed, err
	}
	return processed, nil
}

func (p *Pipeline) observe(ctx context.Context, scope string, frame media.Frame) (store.Observation, error) {
	text, err := p.describer.Describe(ctx, frame.Image)
	if err != nil {
		return store.Observation{}, err
	}
	text, err = p.scan.Check(ctx, scanner.StageObservation, scanner.OriginVision, scope, text)
	if err != nil {
		return store.Observation{}, err
	}
	vec, err := p.embedder.Embed(ctx, text, provider.InputPassage)
	if err != nil {
		return store.Observation{}, err
	}
	return store.Observation{
		ScopeID:   scope,
		Timestamp: frame.Timestamp,
		Text:      text,
		Embedding: vec,
		Kind:      store.KindVisual,
	}, nil
}

// backfillAudio replaces the audio observations of an indexed video.
func (p *Pipeline) backfillAudio(ctx context.Context, rec *store.VideoRecord) error {
	scope := rec.ID
	meta, err := p.sampler.Metadata(ctx, rec.SourcePath)
	if err != nil {
		return err
	}
	if !meta.HasAudio {
		return reelerr.New(reelerr.CodeIngestAudioUnavailable, "video has no audio stream", reelerr.FieldScopeID(scope))
	}

	removed, err := p.index.DeleteKind(ctx, scope, store.KindAudio)
	if err != nil {
		return err
	}
	n, err := p.audioPass(ctx, rec)
	if err != nil {
		return err
	}

	if _, err := p.videos.Update(ctx, scope, func(r *store.VideoRecord) error {
		r.HasAudio = true
		r.Error = ""
		return nil
	}); err != nil {
		return err
	}
	slog.Info("audio backfill complete", "scope_id", scope, "removed", removed, "added", n)
	p.emit(scope, store.StatusCompleted, n, n, meta.Duration, fmt.Sprintf("Audio transcription complete! %d segments indexed.", n))
	return nil
}

func (p *Pipeline) emit(scope string, status store.Status, current, total int, ts float64, msg string) {
	p.events.Publish(progress.Event{
		Scope:     scope,
		Status:    status,
		Current:   current,
		Total:     total,
		Timestamp: ts,
		Message:   msg,
	})
}
