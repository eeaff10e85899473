// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package media

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"iter"
	"log/slog"
	"math"

	"golang.org/x/image/draw"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const (
	DefaultThumbnailWidth  = 320
	DefaultThumbnailHeight = 180

	// DefaultThumbnailAt is where thumbnails are taken from unless the
	// caller says otherwise.
	DefaultThumbnailAt = 1.0

	thumbnailQuality = 85
)

// Sampler turns a video into a deterministic sequence of frames.
type Sampler struct {
	dec Decoder
}

func NewSampler(dec Decoder) *Sampler {
	return &Sampler{dec: dec}
}

// Metadata probes path.
func (s *Sampler) Metadata(ctx context.Context, path string) (Metadata, error) {
	return s.dec.Probe(ctx, path)
}

// Range bounds sampling in seconds. A zero End means "to the last frame".
type Range struct {
	Start float64
	End   float64
}

// PlanFor computes the frame plan for meta. Count and Sample both go
// through it.
func PlanFor(meta Metadata, interval float64, r Range) Plan {
	fps := meta.FPS
	p := Plan{
		Step:   FrameStep(interval, fps),
		FPS:    fps,
		Width:  meta.Width,
		Height: meta.Height,
		End:    meta.TotalFrames,
	}
	if fps > 0 {
		if r.Start > 0 {
			p.Start = int(math.Floor(r.Start * fps))
		}
		if r.End > 0 {
			p.End = min(meta.TotalFrames, int(math.Floor(r.End*fps)))
		}
	}
	return p
}

// Sample yields frames at the given interval. Each range over the returned
// sequence probes and decodes afresh. A failed probe yields a single error.
func (s *Sampler) Sample(ctx context.Context, path string, interval float64, r Range) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		meta, err := s.dec.Probe(ctx, path)
		if err != nil {
			yield(Frame{}, err)
			return
		}
		plan := PlanFor(meta, interval, r)
		if plan.Len() == 0 {
			return
		}
		for f, err := range s.dec.Decode(ctx, path, plan) {
			if !yield(f, err) {
				return
			}
		}
	}
}

// Count returns how many frames Sample yields over the whole video.
func (s *Sampler) Count(ctx context.Context, path string, interval float64) (int, error) {
	meta, err := s.dec.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return PlanFor(meta, interval, Range{}).Len(), nil
}

// Thumbnail returns the frame at timestamp, falling back to the first frame.
func (s *Sampler) Thumbnail(ctx context.Context, path string, timestamp float64) (image.Image, error) {
	img, err := s.dec.FrameAt(ctx, path, timestamp)
	if err == nil {
		return img, nil
	}
	if timestamp == 0 {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "no readable frame", reelerr.FieldPath(path))
	}

	slog.Debug("thumbnail seek failed, using first frame", "path", path, "timestamp", timestamp, "error", err)
	img, err = s.dec.FrameAt(ctx, path, 0)
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaSourceUnreadable, "no readable frame", reelerr.FieldPath(path))
	}
	return img, nil
}

// ExtractAudio writes a 16 kHz mono WAV of src to dst.
func (s *Sampler) ExtractAudio(ctx context.Context, src, dst string) error {
	ex, ok := s.dec.(AudioExtractor)
	if !ok {
		return reelerr.New(reelerr.CodeMediaAudioExtract, "decoder cannot extract audio", reelerr.FieldPath(src))
	}
	return ex.ExtractAudio(ctx, src, dst)
}

// EncodeThumbnail scales img to fit inside w x h, preserving aspect ratio,
// and encodes it as JPEG.
func EncodeThumbnail(img image.Image, w, h int) ([]byte, error) {
	if img == nil {
		return nil, reelerr.New(reelerr.CodeMediaThumbnailFailure, "no image to encode")
	}
	if w <= 0 {
		w = DefaultThumbnailWidth
	}
	if h <= 0 {
		h = DefaultThumbnailHeight
	}

	dst := image.NewRGBA(fit(img.Bounds(), w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeMediaThumbnailFailure, "encoding thumbnail")
	}
	return buf.Bytes(), nil
}

// fit returns the largest rectangle with src's aspect ratio inside w x h.
func fit(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw <= 0 || sh <= 0 {
		return image.Rect(0, 0, w, h)
	}
	scale := math.Min(float64(w)/float64(sw), float64(h)/float64(sh))
	dw := max(1, int(math.Round(float64(sw)*scale)))
	dh := max(1, int(math.Round(float64(sh)*scale)))
	return image.Rect(0, 0, dw, dh)
}
