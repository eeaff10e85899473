// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package scanner screens text crossing a model boundary: questions on
// their way to the synthesizer, model-written observations on their way
// into the index, and synthesized answers on their way back to the caller.
package scanner

import (
	"context"
	"regexp"
	"slices"
	"strings"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Stage identifies which text path is being scanned.
type Stage string

const (
	StageQuestion    Stage = "question"
	StageObservation Stage = "observation"
	StageAnswer      Stage = "answer"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageQuestion, StageObservation, StageAnswer}

// Valid reports whether the stage is a known stage.
func (s Stage) Valid() bool {
	return slices.Contains(Stages, s)
}

// Origin names the producer of scanned text. It is only used for logging.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginVision Origin = "vision"
	OriginSpeech Origin = "speech"
	OriginModel  Origin = "model"
)

// Severity indicates how critical a detection is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether the severity is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// ScanContext describes the text being scanned.
type ScanContext struct {
	Stage  Stage
	Origin Origin
}

// ScanResult holds the outcome of a scan.
type ScanResult struct {
	Threat  bool
	Matches []Match
	// Content is the normalized text. Match offsets index into it, so
	// redaction must be applied to Content rather than the raw input.
	Content string
}

// Rules returns the distinct rule names that matched, in match order.
func (r ScanResult) Rules() []string {
	var names []string
	for _, m := range r.Matches {
		if !slices.Contains(names, m.Rule) {
			names = append(names, m.Rule)
		}
	}
	return names
}

// Match is one pattern hit. Location and Length are byte offsets into
// ScanResult.Content and are never negative.
type Match struct {
	Rule     string
	Location int
	Length   int
	Severity Severity
}

// Scanner scans content for threats.
type Scanner interface {
	Scan(ctx context.Context, content string, opts ScanContext) (ScanResult, error)
}

// Rule is a detection pattern bound to the stages it applies to.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Stages   []Stage
	Severity Severity
}

func (r Rule) appliesTo(stage Stage) bool {
	return slices.Contains(r.Stages, stage)
}

// DefaultMaxContentLength caps what RegexScanner will inspect (1MB).
const DefaultMaxContentLength = 1 << 20

// RegexScanner implements Scanner using compiled regexes.
type RegexScanner struct {
	rules            []Rule
	maxContentLength int
}

// NewRegexScanner creates a scanner with the given rules.
func NewRegexScanner(rules []Rule) (*RegexScanner, error) {
	for i, r := range rules {
		if r.Name == "" {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "rule %d has empty name", i)
		}
		if r.Pattern == nil {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "rule %d (%s) has nil pattern", i, r.Name)
		}
		if len(r.Stages) == 0 {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "rule %d (%s) has no stages", i, r.Name)
		}
		for _, st := range r.Stages {
			if !st.Valid() {
				return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "rule %d (%s) has invalid stage %q", i, r.Name, st)
			}
		}
		if !r.Severity.Valid() {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "rule %d (%s) has invalid severity %q", i, r.Name, r.Severity)
		}
	}
	return &RegexScanner{rules: rules, maxContentLength: DefaultMaxContentLength}, nil
}

// invisibleCharReplacer strips zero-width and other invisible characters
// used to split trigger phrases.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
)

// normalize strips invisible characters and applies NFKC so that
// fullwidth and other compatibility forms match the ASCII rules.
func normalize(s string) string {
	return norm.NFKC.String(invisibleCharReplacer.Replace(s))
}

// Scan checks content against the rules bound to opts.Stage.
func (s *RegexScanner) Scan(_ context.Context, content string, opts ScanContext) (ScanResult, error) {
	if !opts.Stage.Valid() {
		return ScanResult{}, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "invalid scan stage %q", opts.Stage)
	}

	content = normalize(content)
	if len(content) > s.maxContentLength {
		return ScanResult{Threat: true, Content: content, Matches: []Match{{
			Rule:     "content_too_large",
			Length:   len(content),
			Severity: SeverityHigh,
		}}}, nil
	}

	result := ScanResult{Content: content}
	for _, rule := range s.rules {
		if !rule.appliesTo(opts.Stage) {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(content, -1) {
			result.Threat = true
			result.Matches = append(result.Matches, Match{
				Rule:     rule.Name,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: rule.Severity,
			})
		}
	}
	return result, nil
}

// Mode defines how a detection is handled.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeFlag   Mode = "flag"
	ModeRedact Mode = "redact"
	ModeBlock  Mode = "block"
)

// ParseMode parses a mode string (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeFlag, ModeRedact, ModeBlock:
		return m, nil
	default:
		return "", reelerr.Errorf(reelerr.CodeConfigValidateInvalidValue, "invalid scanner mode: %q", s)
	}
}

// ApplyMode applies mode to a scan of content.
//
// block returns a CodeSecurityContentBlocked error. flag and off return
// content unchanged. redact replaces every matched region of the
// normalized content with [REDACTED].
func ApplyMode(mode Mode, content string, result ScanResult) (string, error) {
	if !result.Threat {
		return content, nil
	}

	switch mode {
	case ModeOff, ModeFlag:
		return content, nil
	case ModeRedact:
		return redact(result.Content, result.Matches), nil
	case ModeBlock:
		firstRule := "unknown"
		if len(result.Matches) > 0 {
			firstRule = result.Matches[0].Rule
		}
		return "", reelerr.New(reelerr.CodeSecurityContentBlocked,
			"content blocked by scanner",
			reelerr.Field("matches", len(result.Matches)),
			reelerr.Field("first_rule", firstRule),
		)
	default:
		return "", reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "unknown scanner mode %q", mode)
	}
}

// redact replaces matched regions with [REDACTED], merging overlaps.
func redact(content string, matches []Match) string {
	sorted := slices.DeleteFunc(slices.Clone(matches), func(m Match) bool {
		return m.Location < 0 || m.Length < 0 || m.Location > len(content)
	})
	if len(sorted) == 0 {
		return content
	}
	slices.SortFunc(sorted, func(a, b Match) int { return a.Location - b.Location })

	type span struct{ start, end int }
	spans := []span{{sorted[0].Location, sorted[0].Location + sorted[0].Length}}
	for _, m := range sorted[1:] {
		last := &spans[len(spans)-1]
		end := m.Location + m.Length
		if m.Location <= last.end {
			last.end = max(last.end, end)
			continue
		}
		spans = append(spans, span{m.Location, end})
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		b.WriteString(content[pos:s.start])
		b.WriteString("[REDACTED]")
		pos = min(s.end, len(content))
	}
	b.WriteString(content[pos:])
	return b.String()
}
