// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// apiError maps a coded error onto a huma status error.
func apiError(op string, err error) error {
	status := reelerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err, "code", reelerr.CodeOf(err))
		return huma.NewError(status, op+" failed", err)
	}
	return huma.NewError(status, err.Error())
}

// writeError writes a JSON error body for handlers outside huma.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("writing error response", "error", err)
	}
}

// writeCodedError writes err with the status its code maps to.
func writeCodedError(w http.ResponseWriter, op string, err error) {
	status := reelerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err, "code", reelerr.CodeOf(err))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}
