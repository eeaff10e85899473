// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/security/scanner"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// AudioPrefix marks observations derived from speech.
const AudioPrefix = "[AUDIO] "

// Window is a consolidated span of transcribed speech.
type Window struct {
	Start float64
	End   float64
	Text  string
}

// Consolidate groups fragments into windows of at least span seconds. A
// window opens at its first fragment and closes once end-start >= span; the
// remainder forms a final, shorter window. Blank fragments are dropped.
func Consolidate(frags []provider.Fragment, span time.Duration) []Window {
	limit := span.Seconds()
	var (
		out   []Window
		parts []string
		cur   Window
	)
	for _, f := range frags {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		if len(parts) == 0 {
			cur.Start = f.Start
		}
		parts = append(parts, text)
		cur.End = f.End
		if cur.End-cur.Start >= limit {
			cur.Text = strings.Join(parts, " ")
			out = append(out, cur)
			parts = parts[:0]
			cur = Window{}
		}
	}
	if len(parts) > 0 {
		cur.Text = strings.Join(parts, " ")
		out = append(out, cur)
	}
	return out
}

// audioAvailable reports whether the audio pass can run at all.
func (p *Pipeline) audioAvailable() bool {
	return p.transcriber != nil && p.cfg.AudioEnabled
}

// audioPass transcribes rec's audio track and inserts one observation per
// window. It returns the number of observations inserted.
func (p *Pipeline) audioPass(ctx context.Context, rec *store.VideoRecord) (int, error) {
	scope := rec.ID
	p.emit(scope, store.StatusProcessing, 0, 0, 0, "Transcribing audio...")

	tmp, err := os.CreateTemp(p.cfg.TempDir, "reel-audio-*.wav")
	if err != nil {
		return 0, reelerr.Wrap(err, reelerr.CodeMediaAudioExtract, "creating temp audio file", reelerr.FieldScopeID(scope))
	}
	audioPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(audioPath) }()

	if err := p.sampler.ExtractAudio(ctx, rec.SourcePath, audioPath); err != nil {
		return 0, err
	}
	frags, err := p.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return 0, err
	}

	windows := Consolidate(frags, p.cfg.AudioWindow)
	if len(windows) == 0 {
		slog.Info("no speech found", "scope_id", scope)
		return 0, nil
	}

	obs := make([]store.Observation, len(windows))
	embedded := make([]bool, len(windows))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.AudioWorkers)
	for i, w := range windows {
		g.Go(func() error {
			text, err := p.scan.Check(gctx, scanner.StageObservation, scanner.OriginSpeech, scope, AudioPrefix+w.Text)
			if err != nil {
				slog.Warn("skipping audio window", "scope_id", scope, "start", w.Start, "error", err)
				return nil
			}
			vec, err := p.embedder.Embed(gctx, text, provider.InputPassage)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("skipping audio window", "scope_id", scope, "start", w.Start, "error", err)
				return nil
			}
			obs[i] = store.Observation{
				ScopeID:   scope,
				Timestamp: w.Start,
				Text:      text,
				Embedding: vec,
				Kind:      store.KindAudio,
			}
			embedded[i] = true
			n := int(done.Add(1))
			p.emit(scope, store.StatusProcessing, n, len(windows), w.Start,
				"Transcribed audio at "+provider.FormatTimestamp(w.Start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	batch := make([]store.Observation, 0, len(obs))
	for i, ok := range embedded {
		if ok {
			batch = append(batch, obs[i])
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	n, err := p.index.Insert(ctx, scope, batch)
	if err != nil {
		return 0, err
	}
	slog.Info("indexed audio windows", "scope_id", scope, "windows", n)
	return n, nil
}
