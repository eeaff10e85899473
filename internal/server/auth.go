// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// publicPaths never require a token.
var publicPaths = map[string]bool{
	"/health":       true,
	"/openapi.json": true,
	"/openapi.yaml": true,
	"/docs":         true,
}

// tokenSet holds SHA-256 digests of the configured bearer tokens.
type tokenSet struct {
	hashes [][sha256.Size]byte
}

func newTokenSet(tokens []string) (*tokenSet, error) {
	set := &tokenSet{}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		set.hashes = append(set.hashes, sha256.Sum256([]byte(tok)))
	}
	if len(tokens) > 0 && len(set.hashes) == 0 {
		return nil, reelerr.New(reelerr.CodeServerConfigInvalid,
			"all configured auth tokens are blank; the API would be unusable")
	}
	return set, nil
}

func (t *tokenSet) enabled() bool { return len(t.hashes) > 0 }

// valid compares against every digest so the time taken does not depend on
// which token matched.
func (t *tokenSet) valid(token string) bool {
	candidate := sha256.Sum256([]byte(token))
	matched := 0
	for _, h := range t.hashes {
		matched |= subtle.ConstantTimeCompare(h[:], candidate[:])
	}
	return matched == 1
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource and <video> clients that
// cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.enabled() || publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" || !s.tokens.valid(token) {
			slog.Debug("rejected unauthenticated request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="reel"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
