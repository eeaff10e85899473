// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per IP. Zero disables limiting.
	RequestsPerSecond float64
	// Burst is the maximum burst size per IP.
	Burst int
	// MaxVisitors caps the number of IPs tracked; the least recently seen
	// are evicted first. Zero means 10000.
	MaxVisitors int
}

// Validate checks that the RateLimitConfig is valid and applies defaults.
func (c *RateLimitConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return reelerr.Errorf(reelerr.CodeServerConfigInvalid,
			"rate limit requests per second must not be negative (got %g)", c.RequestsPerSecond)
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		return reelerr.Errorf(reelerr.CodeServerConfigInvalid,
			"rate limit burst must be positive when rate is set (got burst=%d, rate=%g)",
			c.Burst, c.RequestsPerSecond)
	}
	if c.MaxVisitors < 0 {
		return reelerr.Errorf(reelerr.CodeServerConfigInvalid,
			"rate limit max visitors must not be negative (got %d)", c.MaxVisitors)
	}
	if c.MaxVisitors == 0 {
		c.MaxVisitors = 10000
	}
	return nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors tracks one limiter per client IP.
type visitors struct {
	cfg RateLimitConfig
	mu  sync.Mutex
	m   map[string]*visitor
	now func() time.Time
}

func newVisitors(cfg RateLimitConfig) *visitors {
	return &visitors{cfg: cfg, m: make(map[string]*visitor), now: time.Now}
}

func (v *visitors) allow(ip string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.m[ip]
	if !ok {
		e = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RequestsPerSecond), v.cfg.Burst)}
		v.m[ip] = e
	}
	now := v.now()
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

const staleVisitor = 10 * time.Minute

// sweep drops stale visitors, then evicts the least recently seen until
// the map fits MaxVisitors. It returns the number evicted for the cap.
func (v *visitors) sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	type entry struct {
		ip       string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(v.m))
	for ip, e := range v.m {
		if now.Sub(e.lastSeen) > staleVisitor {
			delete(v.m, ip)
			continue
		}
		entries = append(entries, entry{ip: ip, lastSeen: e.lastSeen})
	}

	if v.cfg.MaxVisitors <= 0 || len(entries) <= v.cfg.MaxVisitors {
		return 0
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.lastSeen.Compare(b.lastSeen) })
	evict := len(entries) - v.cfg.MaxVisitors
	for _, e := range entries[:evict] {
		delete(v.m, e.ip)
	}
	return evict
}

func (v *visitors) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.m)
}

// rateLimitMiddleware returns middleware that enforces per-IP rate limits.
// Returns a pass-through middleware when cfg.RequestsPerSecond is zero.
// The done channel signals the cleanup goroutine to exit on shutdown.
func rateLimitMiddleware(cfg RateLimitConfig, done <-chan struct{}) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	vs := newVisitors(cfg)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := vs.sweep(); n > 0 {
					slog.Warn("rate limiter visitor cap enforced",
						"evicted", n, "max_visitors", cfg.MaxVisitors, "remaining", vs.len())
				}
			case <-done:
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			// Limit by IP, not by connection: strip the ephemeral port.
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !vs.allow(ip) {
				slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
