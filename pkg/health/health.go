// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package health holds the provider health snapshot shared by the server
// and the CLI.
package health

import "time"

// Metrics is a point-in-time view of a provider's call health.
type Metrics struct {
	Available      bool             `json:"available"`
	FailureCount   int64            `json:"failure_count"`
	FailuresByRole map[string]int64 `json:"failures_by_role,omitempty"`
	LastRole       string           `json:"last_role,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	LastFailureAt  *time.Time       `json:"last_failure_at,omitempty"`
	CooldownUntil  *time.Time       `json:"cooldown_until,omitempty"`
}

// Degraded reports whether the provider has failed and is still cooling
// down.
func (m Metrics) Degraded() bool {
	return !m.Available && m.CooldownUntil != nil
}
