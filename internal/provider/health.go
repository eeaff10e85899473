// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"sync"
	"time"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/sigil-dev/reel/pkg/health"
)

type HealthMetrics = health.Metrics

// DefaultHealthCooldown is how long a provider stays unavailable after a
// call exhausts its retries.
const DefaultHealthCooldown = 30 * time.Second

// HealthTracker records the outcome of retried calls against one provider.
// A failure parks the provider for the cooldown; the next success, or the
// cooldown elapsing, makes it available again. Failures are counted per
// role so status output can say which model is misbehaving.
type HealthTracker struct {
	mu       sync.RWMutex
	cooldown time.Duration
	now      func() time.Time

	failing  bool
	failedAt time.Time
	lastRole reelerr.Role
	lastErr  string
	byRole   map[reelerr.Role]int64
}

func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, reelerr.Errorf(reelerr.CodeConfigValidateInvalidValue,
			"health cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{
		cooldown: cooldown,
		now:      time.Now,
		byRole:   make(map[reelerr.Role]int64),
	}, nil
}

// MustHealthTracker is NewHealthTracker for constant cooldowns.
func MustHealthTracker(cooldown time.Duration) *HealthTracker {
	h, err := NewHealthTracker(cooldown)
	if err != nil {
		panic(err)
	}
	return h
}

// h.mu must be held.
func (h *HealthTracker) availableLocked() bool {
	return !h.failing || h.now().Sub(h.failedAt) >= h.cooldown
}

// Available reports whether calls should be routed to the provider.
func (h *HealthTracker) Available() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked()
}

func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.failing = false
	h.mu.Unlock()
}

// RecordFailure parks the provider and counts the failure against role.
// err may be nil.
func (h *HealthTracker) RecordFailure(role reelerr.Role, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = true
	h.failedAt = h.now()
	h.lastRole = role
	h.byRole[role]++
	if err != nil {
		h.lastErr = err.Error()
	}
}

// SetNowFunc replaces the clock. Tests only.
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.now = fn
	h.mu.Unlock()
}

// Snapshot returns the current state for status reporting.
func (h *HealthTracker) Snapshot() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := HealthMetrics{
		Available: h.availableLocked(),
		LastError: h.lastErr,
		LastRole:  string(h.lastRole),
	}
	if len(h.byRole) > 0 {
		m.FailuresByRole = make(map[string]int64, len(h.byRole))
		for role, n := range h.byRole {
			m.FailuresByRole[string(role)] = n
			m.FailureCount += n
		}
		at := h.failedAt
		m.LastFailureAt = &at
	}
	if h.failing {
		until := h.failedAt.Add(h.cooldown)
		m.CooldownUntil = &until
	}
	return m
}
