// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		content string
		matches []Match
		want    string
	}{
		{name: "no matches", content: "abc", want: "abc"},
		{name: "single", content: "a SECRET b", matches: []Match{{Location: 2, Length: 6}}, want: "a [REDACTED] b"},
		{name: "overlapping merge", content: "0123456789", matches: []Match{{Location: 5, Length: 3}, {Location: 2, Length: 4}}, want: "01[REDACTED]89"},
		{name: "adjacent merge", content: "aaBBcc", matches: []Match{{Location: 0, Length: 2}, {Location: 2, Length: 2}}, want: "[REDACTED]cc"},
		{name: "disjoint", content: "x1y2z", matches: []Match{{Location: 1, Length: 1}, {Location: 3, Length: 1}}, want: "x[REDACTED]y[REDACTED]z"},
		{name: "past end is clamped", content: "abc", matches: []Match{{Location: 1, Length: 10}}, want: "a[REDACTED]"},
		{name: "invalid dropped", content: "abc", matches: []Match{{Location: -1, Length: 2}}, want: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redact(tt.content, tt.matches))
		})
	}
}
