// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "time"

// --- Video registry types ---

// Status is the ingestion lifecycle state of a video.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no run is expected to move the status further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// VideoRecord is one registered video; its ID is the scope of its observations.
type VideoRecord struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Filename   string  `json:"filename"`
	SourcePath string  `json:"source_path"`
	Status     Status  `json:"status"`
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	HasAudio   bool    `json:"has_audio"`
	// TotalFrames is the container's frame count; ExpectedSamples is the
	// number of frames the sampler will yield at the configured interval.
	TotalFrames     int       `json:"total_frames"`
	ExpectedSamples int       `json:"expected_samples"`
	Processed       int       `json:"processed"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ProcessedAt     time.Time `json:"processed_at,omitzero"`
}

// DisplayName returns the name shown to users, falling back to the ID.
func (r *VideoRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.Filename != "" {
		return r.Filename
	}
	return r.ID
}

// --- Semantic index types ---

// SourceKind is the modality an observation was derived from.
type SourceKind string

const (
	KindVisual SourceKind = "visual"
	KindAudio  SourceKind = "audio"
)

// Metric is the vector similarity metric of an index.
type Metric string

const MetricCosine Metric = "cosine"

// Observation is an embedded description of a video at one moment.
// Observations are never updated in place.
type Observation struct {
	ScopeID   string
	Timestamp float64
	Text      string
	Embedding []float32
	Kind      SourceKind
}

// SearchResult is one index hit. Higher Score means more relevant.
type SearchResult struct {
	ScopeID   string     `json:"scope_id"`
	Timestamp float64    `json:"timestamp"`
	Text      string     `json:"text"`
	Kind      SourceKind `json:"kind"`
	Score     float64    `json:"score"`
}
