// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoctor_RunsAllChecks(t *testing.T) {
	isolate(t)
	out, err := execute(t, "doctor", "--address", "127.0.0.1:1")
	require.NoError(t, err)

	for _, name := range []string{"Binary:", "Platform:", "ffmpeg:", "ffprobe:", "Config:", "Index:", "Scanner:", "Providers:", "Server:", "Disk Space:"} {
		assert.Contains(t, out, name)
	}
	// The bootstrapped default config names openai and whisper.
	assert.Contains(t, out, "openai, whisper")
	assert.Contains(t, out, "questions=flag observations=redact answers=redact")
}

func TestDoctor_ServerRunning(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	out, err := execute(t, "doctor", "--address", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "ok at "+addr)
}

func TestDoctor_ServerNotRunning(t *testing.T) {
	isolate(t)
	out, err := execute(t, "doctor", "--address", "127.0.0.1:1")
	require.NoError(t, err)
	assert.Contains(t, out, "not running at 127.0.0.1:1")
}

func TestDoctor_InvalidConfigIsReported(t *testing.T) {
	isolate(t)
	dataDir := t.TempDir()
	cfgPath := writeTestConfig(t, dataDir, "memory")

	// REEL_ env overrides are validated like file values.
	t.Setenv("REEL_STORAGE_INDEX_BACKEND", "faiss")
	out, err := execute(t, "doctor", "--config", cfgPath, "--address", "127.0.0.1:1")
	require.NoError(t, err)
	assert.Contains(t, out, "storage.index.backend")
}

func TestCheckTool(t *testing.T) {
	assert.Contains(t, checkTool("/definitely/not/here/ffmpeg", "ffmpeg"), "not found")
	assert.Contains(t, checkTool("/definitely/not/here/ffmpeg", "ffmpeg"), "ingest.ffmpeg")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 bytes"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
