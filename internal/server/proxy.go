// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// parseTrustedProxies parses CIDR strings. Blank entries are skipped.
func parseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, reelerr.Errorf(reelerr.CodeServerConfigInvalid,
				"invalid trusted proxy CIDR %q: %w", cidr, err)
		}
		nets = append(nets, ipNet)
	}
	return nets, nil
}

func isTrustedProxy(ip net.IP, trusted []*net.IPNet) bool {
	for _, n := range trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIPMiddleware picks how the client address is derived. With no
// trusted proxies it falls back to chi's RealIP; otherwise forwarding
// headers count only when the direct peer is a trusted proxy.
func clientIPMiddleware(cidrs []string) (func(http.Handler) http.Handler, error) {
	trusted, err := parseTrustedProxies(cidrs)
	if err != nil {
		return nil, err
	}
	if len(trusted) == 0 {
		return middleware.RealIP, nil
	}
	return trustedProxyRealIP(trusted), nil
}

// trustedProxyRealIP rewrites r.RemoteAddr from X-Forwarded-For or
// X-Real-IP when the connecting peer is trusted.
func trustedProxyRealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				peer = r.RemoteAddr
			}
			ip := net.ParseIP(peer)
			if ip == nil || !isTrustedProxy(ip, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			client := ""
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				// Leftmost entry is the original client.
				first, _, _ := strings.Cut(xff, ",")
				client = strings.TrimSpace(first)
			} else {
				client = strings.TrimSpace(r.Header.Get("X-Real-IP"))
			}
			if client != "" {
				if net.ParseIP(client) != nil {
					r.RemoteAddr = net.JoinHostPort(client, "0")
				} else {
					slog.Warn("invalid forwarded client IP, using peer", "forwarded", client, "peer", peer)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
