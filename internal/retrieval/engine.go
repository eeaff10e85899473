// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package retrieval answers questions from the semantic index, for one
// video or across all of them.
package retrieval

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/security/scanner"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Fixed answer texts.
const (
	NoInformation = "I couldn't find any relevant information in this video for your question. The video may not have been processed yet."
	NoMatches     = "No matching content found in any processed videos."
	Blocked       = "This question was blocked by the content scanner."
	Withheld      = "The answer was withheld by the content scanner."
)

// Default limits, used when the corresponding Config field is zero.
const (
	DefaultTopK           = 5
	DefaultGlobalTopK     = 20
	DefaultDedupWindow    = 30 * time.Second
	DefaultSummaryContext = 10

	// overFetch is how many candidates GlobalSearch pulls per requested
	// result before de-duplication.
	overFetch = 3
)

// Config tunes result counts and de-duplication.
type Config struct {
	TopK           int
	GlobalTopK     int
	DedupWindow    time.Duration
	SummaryContext int
	// ThumbnailURL renders the thumbnail hint for a scope. Nil uses the
	// HTTP API path.
	ThumbnailURL func(scope string) string
	// Scanner screens questions and synthesized text. Nil disables it.
	Scanner *scanner.Guard
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.GlobalTopK <= 0 {
		c.GlobalTopK = DefaultGlobalTopK
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.SummaryContext <= 0 {
		c.SummaryContext = DefaultSummaryContext
	}
	if c.ThumbnailURL == nil {
		c.ThumbnailURL = ThumbnailPath
	}
	return c
}

// ThumbnailPath is the API path serving a video's thumbnail.
func ThumbnailPath(scope string) string {
	return "/api/v1/videos/" + scope + "/thumbnail"
}

// Source is one observation an answer drew on.
type Source struct {
	Timestamp float64          `json:"timestamp"`
	Text      string           `json:"text"`
	Score     float64          `json:"score"`
	Kind      store.SourceKind `json:"kind"`
}

// Answer is a synthesized reply and the observations behind it, best first.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Hit is a de-duplicated cross-video search result.
type Hit struct {
	store.SearchResult
	VideoName    string `json:"video_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// GlobalResult is the outcome of a cross-video search. Summary is empty
// when not requested or when synthesis failed; Error is set when the query
// could not be embedded.
type GlobalResult struct {
	Results []Hit  `json:"results"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Engine runs queries. Failures never propagate out of Answer or
// GlobalSearch; they degrade to explanatory text.
type Engine struct {
	index       store.Index
	videos      store.VideoStore
	embedder    provider.Embedder
	synthesizer provider.Synthesizer
	cfg         Config
}

// New returns an Engine. videos may be nil, in which case global results
// are labelled with their scope id.
func New(index store.Index, videos store.VideoStore, embedder provider.Embedder, synth provider.Synthesizer, cfg Config) (*Engine, error) {
	if index == nil || embedder == nil || synth == nil {
		return nil, reelerr.New(reelerr.CodeConfigValidateInvalidValue, "retrieval: index, embedder and synthesizer are required")
	}
	return &Engine{
		index:       index,
		videos:      videos,
		embedder:    embedder,
		synthesizer: synth,
		cfg:         cfg.withDefaults(),
	}, nil
}

// TopK returns the configured single-video result count.
func (e *Engine) TopK() int { return e.cfg.TopK }

// GlobalTopK returns the configured cross-video result count.
func (e *Engine) GlobalTopK() int { return e.cfg.GlobalTopK }

// Answer answers question from scope's observations. A negative topK uses
// the configured default; zero retrieves nothing. Scope existence is not
// checked.
func (e *Engine) Answer(ctx context.Context, scope, question string, topK int) Answer {
	question, err := e.cfg.Scanner.Check(ctx, scanner.StageQuestion, scanner.OriginUser, scope, question)
	if err != nil {
		return Answer{Text: Blocked, Sources: []Source{}}
	}
	if topK < 0 {
		topK = e.cfg.TopK
	}
	if topK == 0 {
		return Answer{Text: NoInformation, Sources: []Source{}}
	}

	results, err := e.search(ctx, question, scope, topK)
	if err != nil {
		slog.Warn("answer retrieval failed", "scope_id", scope, "error", err)
		return Answer{Text: "Error processing query: " + err.Error(), Sources: []Source{}}
	}
	if len(results) == 0 {
		return Answer{Text: NoInformation, Sources: []Source{}}
	}

	items := make([]provider.ContextItem, len(results))
	sources := make([]Source, len(results))
	for i, r := range results {
		items[i] = provider.ContextItem{Timestamp: r.Timestamp, Text: r.Text}
		sources[i] = Source{Timestamp: r.Timestamp, Text: r.Text, Score: r.Score, Kind: r.Kind}
	}

	text, err := e.synthesizer.Generate(ctx, question, items, provider.DefaultSystemPrompt)
	if err != nil {
		slog.Warn("answer synthesis failed", "scope_id", scope, "error", err)
		return Answer{Text: "Error generating answer: " + err.Error(), Sources: []Source{}}
	}
	text, err = e.cfg.Scanner.Check(ctx, scanner.StageAnswer, scanner.OriginModel, scope, text)
	if err != nil {
		return Answer{Text: Withheld, Sources: []Source{}}
	}
	return Answer{Text: text, Sources: sources}
}

// GlobalSearch searches every scope, keeps the best hit per video and time
// window, and optionally summarizes the top hits. A negative topK uses the
// configured default.
func (e *Engine) GlobalSearch(ctx context.Context, question string, topK int, summarize bool) GlobalResult {
	question, err := e.cfg.Scanner.Check(ctx, scanner.StageQuestion, scanner.OriginUser, "", question)
	if err != nil {
		return GlobalResult{Results: []Hit{}, Error: Blocked}
	}
	if topK < 0 {
		topK = e.cfg.GlobalTopK
	}
	if topK == 0 {
		return GlobalResult{Results: []Hit{}}
	}

	raw, err := e.search(ctx, question, store.AllScopes, topK*overFetch)
	if err != nil {
		slog.Warn("global search failed", "error", err)
		return GlobalResult{Results: []Hit{}, Error: err.Error()}
	}

	deduped := Dedup(raw, e.cfg.DedupWindow, topK)
	hits := e.enrich(ctx, deduped)

	out := GlobalResult{Results: hits}
	if !summarize {
		return out
	}
	if len(hits) == 0 {
		out.Summary = NoMatches
		return out
	}

	top := hits[:min(len(hits), e.cfg.SummaryContext)]
	items := make([]provider.ContextItem, len(top))
	for i, h := range top {
		items[i] = provider.ContextItem{Timestamp: h.Timestamp, Text: h.Text, Label: h.VideoName}
	}
	summary, err := e.synthesizer.Generate(ctx, question, items, provider.GlobalSystemPrompt)
	if err != nil {
		slog.Warn("global summary failed", "error", err)
		return out
	}
	if summary, err = e.cfg.Scanner.Check(ctx, scanner.StageAnswer, scanner.OriginModel, "", summary); err != nil {
		return out
	}
	out.Summary = summary
	return out
}

func (e *Engine) search(ctx context.Context, question, scope string, k int) ([]store.SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, question, provider.InputQuery)
	if err != nil {
		return nil, err
	}
	return e.index.Search(ctx, vec, scope, k)
}

// Dedup keeps the highest-scoring result per (scope, window) key, earlier
// results winning ties, then orders survivors best first and truncates to
// limit.
func Dedup(results []store.SearchResult, window time.Duration, limit int) []store.SearchResult {
	type key struct {
		scope  string
		bucket int64
	}
	width := window.Seconds()
	best := make(map[key]int, len(results))
	var kept []store.SearchResult

	for _, r := range results {
		k := key{scope: r.ScopeID, bucket: int64(math.Floor(r.Timestamp / width))}
		if i, ok := best[k]; ok {
			if r.Score > kept[i].Score {
				kept[i] = r
			}
			continue
		}
		best[k] = len(kept)
		kept = append(kept, r)
	}

	slices.SortStableFunc(kept, func(a, b store.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func (e *Engine) enrich(ctx context.Context, results []store.SearchResult) []Hit {
	names := make(map[string]string)
	hits := make([]Hit, len(results))
	for i, r := range results {
		name, ok := names[r.ScopeID]
		if !ok {
			name = e.displayName(ctx, r.ScopeID)
			names[r.ScopeID] = name
		}
		hits[i] = Hit{SearchResult: r, VideoName: name, ThumbnailURL: e.cfg.ThumbnailURL(r.ScopeID)}
	}
	return hits
}

func (e *Engine) displayName(ctx context.Context, scope string) string {
	if e.videos == nil {
		return scope
	}
	rec, err := e.videos.Get(ctx, scope)
	if err != nil {
		if !reelerr.IsNotFound(err) {
			slog.Debug("display name lookup failed", "scope_id", scope, "error", err)
		}
		return scope
	}
	return rec.DisplayName()
}
