// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import (
	"context"
	"log/slog"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Policy maps each stage to the mode applied on a match. Stages absent
// from the policy are not scanned.
type Policy map[Stage]Mode

// DefaultPolicy flags suspicious questions and redacts model output.
func DefaultPolicy() Policy {
	return Policy{
		StageQuestion:    ModeFlag,
		StageObservation: ModeRedact,
		StageAnswer:      ModeRedact,
	}
}

// Guard applies a Policy with a Scanner. A nil *Guard passes text through.
type Guard struct {
	scanner Scanner
	policy  Policy
}

// NewGuard returns a Guard. A nil scanner uses the default rules.
func NewGuard(s Scanner, policy Policy) (*Guard, error) {
	for stage, mode := range policy {
		if !stage.Valid() {
			return nil, reelerr.Errorf(reelerr.CodeConfigValidateInvalidValue, "invalid scan stage %q", stage)
		}
		if _, err := ParseMode(string(mode)); err != nil {
			return nil, err
		}
	}
	if s == nil {
		rules, err := DefaultRules()
		if err != nil {
			return nil, err
		}
		if s, err = NewRegexScanner(rules); err != nil {
			return nil, err
		}
	}
	return &Guard{scanner: s, policy: policy}, nil
}

// Check scans text for stage and returns what may be passed on. Blocked
// text yields a CodeSecurityContentBlocked error. A scanner failure is
// logged and the text passes unchanged.
func (g *Guard) Check(ctx context.Context, stage Stage, origin Origin, scope, text string) (string, error) {
	if g == nil {
		return text, nil
	}
	mode, ok := g.policy[stage]
	if !ok || mode == ModeOff {
		return text, nil
	}

	result, err := g.scanner.Scan(ctx, text, ScanContext{Stage: stage, Origin: origin})
	if err != nil {
		slog.Warn("scan failed", "stage", stage, "scope_id", scope, "error", err)
		return text, nil
	}
	if !result.Threat {
		return text, nil
	}

	slog.Warn("scanner matched",
		"stage", stage,
		"origin", origin,
		"scope_id", scope,
		"mode", mode,
		"rules", result.Rules(),
	)
	out, err := ApplyMode(mode, text, result)
	if err != nil {
		return "", reelerr.With(err, reelerr.FieldScopeID(scope), reelerr.Field("stage", string(stage)))
	}
	return out, nil
}
