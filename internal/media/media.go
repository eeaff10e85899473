// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package media samples frames and audio from video files.
//
// Decoding is delegated to a Decoder (ffmpeg in production). The Sampler
// owns the sampling arithmetic so Count and Sample always agree.
package media

import (
	"context"
	"image"
	"iter"
	"math"
)

// Metadata describes a probed video source.
type Metadata struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	Duration    float64 `json:"duration"`
	HasAudio    bool    `json:"has_audio"`
}

// Frame is one sampled frame.
type Frame struct {
	Index     int
	Timestamp float64 // seconds, Index / fps
	Image     image.Image
}

// Plan is the arithmetic progression of frame indices to decode:
// Start, Start+Step, ... while < End.
type Plan struct {
	Start int
	End   int
	Step  int
	FPS   float64

	// Frame geometry, copied from Metadata for raw decoders.
	Width  int
	Height int
}

// Len is the number of frames the plan yields.
func (p Plan) Len() int {
	if p.Step <= 0 || p.End <= p.Start {
		return 0
	}
	return (p.End - p.Start + p.Step - 1) / p.Step
}

// Indices yields every frame index in the plan.
func (p Plan) Indices() iter.Seq[int] {
	return func(yield func(int) bool) {
		if p.Step <= 0 {
			return
		}
		for i := p.Start; i < p.End; i += p.Step {
			if !yield(i) {
				return
			}
		}
	}
}

// Timestamp converts a frame index to seconds. With an unknown frame rate
// the index itself is used.
func (p Plan) Timestamp(index int) float64 {
	if p.FPS <= 0 {
		return float64(index)
	}
	return float64(index) / p.FPS
}

// FrameStep is max(1, round(interval*fps)). fps <= 0 yields 1.
func FrameStep(interval, fps float64) int {
	if fps <= 0 || interval <= 0 {
		return 1
	}
	return max(1, int(math.Round(interval*fps)))
}

// Decoder is the container/codec boundary.
type Decoder interface {
	// Probe reads stream metadata. It fails with a SourceUnreadable error
	// when the file cannot be opened or has no video stream.
	Probe(ctx context.Context, path string) (Metadata, error)

	// Decode yields the frames in plan, in order. Stopping iteration early
	// must release the underlying decoder.
	Decode(ctx context.Context, path string, plan Plan) iter.Seq2[Frame, error]

	// FrameAt decodes the single frame nearest to timestamp.
	FrameAt(ctx context.Context, path string, timestamp float64) (image.Image, error)
}

// AudioExtractor writes a decoder-independent audio track for transcription.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, src, dst string) error
}
