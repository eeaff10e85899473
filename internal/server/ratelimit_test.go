// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func hit(h http.Handler, remote, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	h := rateLimitMiddleware(RateLimitConfig{Burst: 10}, done)(okHandler())
	for range 100 {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:12345", "/api/v1/videos").Code)
	}
}

func TestRateLimitMiddleware_ExceedsBurst(t *testing.T) {
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	h := rateLimitMiddleware(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3}, done)(okHandler())
	for i := range 3 {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:1000", "/api/v1/videos").Code, "request %d", i)
	}

	w := hit(h, "192.168.1.1:2000", "/api/v1/videos")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "ports share one bucket")
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.2:1000", "/api/v1/videos").Code, "other IPs unaffected")
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:1000", "/health").Code, "health is exempt")
}

func TestVisitors_Sweep(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxVisitors: 2}
	vs := newVisitors(cfg)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vs.now = func() time.Time { return now }

	vs.allow("stale")
	now = now.Add(11 * time.Minute)
	for i := range 4 {
		vs.allow(fmt.Sprintf("10.0.0.%d", i))
		now = now.Add(time.Second)
	}

	evicted := vs.sweep()
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 2, vs.len())

	vs.mu.Lock()
	defer vs.mu.Unlock()
	assert.NotContains(t, vs.m, "stale")
	assert.Contains(t, vs.m, "10.0.0.3", "most recent survives")
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr string
	}{
		{"disabled", RateLimitConfig{}, ""},
		{"negative rate", RateLimitConfig{RequestsPerSecond: -1}, "must not be negative"},
		{"missing burst", RateLimitConfig{RequestsPerSecond: 5}, "burst must be positive"},
		{"negative visitors", RateLimitConfig{MaxVisitors: -1}, "max visitors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, 10000, cfg.MaxVisitors)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
