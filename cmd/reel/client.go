// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sigil-dev/reel/internal/progress"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// defaultHTTPClient is the package-level HTTP client used by server commands.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

// streamHTTPClient has no overall timeout: progress streams stay open for
// the length of a run.
var streamHTTPClient = &http.Client{}

// apiClient provides HTTP access to a running reel server.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAPIClient creates a client targeting the given host:port address.
func newAPIClient(addr, token string) *apiClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{
		baseURL: strings.TrimSuffix(base, "/"),
		token:   token,
		http:    defaultHTTPClient,
	}
}

func (c *apiClient) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, reelerr.Errorf(reelerr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// getJSON performs a GET request and decodes the JSON response into dest.
// Returns a CodeCLIServerNotRunning error on connection refused.
func (c *apiClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return requestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return reelerr.Errorf(reelerr.CodeCLIResponseInvalid, "invalid response: %w", err)
	}
	return nil
}

// streamProgress follows the SSE progress stream of scope, calling fn for
// each event until the server closes the stream or ctx ends.
func (c *apiClient) streamProgress(ctx context.Context, scope string, fn func(progress.Event)) error {
	req, err := c.newRequest(ctx, "/api/v1/videos/"+scope+"/progress")
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := streamHTTPClient.Do(req)
	if err != nil {
		return requestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return readProgress(resp.Body, fn)
}

// readProgress parses "data:" lines of an event stream. Comment lines and
// other fields are ignored.
func readProgress(r io.Reader, fn func(progress.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var e progress.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &e); err != nil {
			return reelerr.Errorf(reelerr.CodeCLIResponseInvalid, "invalid progress event: %w", err)
		}
		fn(e)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return reelerr.Errorf(reelerr.CodeCLIRequestFailure, "reading progress stream: %w", err)
	}
	return nil
}

func requestError(err error) error {
	if isDialError(err) {
		return reelerr.New(reelerr.CodeCLIServerNotRunning, "server is not running (connection refused)")
	}
	return reelerr.Errorf(reelerr.CodeCLIRequestFailure, "request failed: %w", err)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil {
		switch {
		case apiErr.Error != "":
			msg = apiErr.Error
		case apiErr.Detail != "":
			msg = apiErr.Detail
		}
	}
	code := reelerr.CodeCLIRequestFailure
	if resp.StatusCode == http.StatusNotFound {
		code = reelerr.CodeServerEntityNotFound
	}
	return reelerr.Errorf(code, "server returned status %d: %s", resp.StatusCode, msg)
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
