// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import (
	_ "embed"
	"regexp"
	"sync"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name     string   `yaml:"name"`
	Severity Severity `yaml:"severity"`
	Stages   []Stage  `yaml:"stages"`
	Regex    string   `yaml:"regex"`
}

// DefaultRules returns the built-in rule set. The embedded rules are
// parsed and compiled once; a pattern that fails to compile fails every
// call.
var DefaultRules = sync.OnceValues(func() ([]Rule, error) {
	return ParseRules(rulesYAML)
})

// ParseRules compiles a YAML rule document. Rule names must be unique.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "parsing scanner rules: %w", err)
	}

	seen := make(map[string]bool, len(f.Rules))
	rules := make([]Rule, 0, len(f.Rules))
	for _, e := range f.Rules {
		if seen[e.Name] {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "duplicate scanner rule %q", e.Name)
		}
		seen[e.Name] = true

		re, err := regexp.Compile(e.Regex)
		if err != nil {
			return nil, reelerr.Errorf(reelerr.CodeSecurityScannerFailure, "compiling scanner rule %q: %w", e.Name, err)
		}
		rules = append(rules, Rule{Name: e.Name, Pattern: re, Stages: e.Stages, Severity: e.Severity})
	}
	return rules, nil
}
