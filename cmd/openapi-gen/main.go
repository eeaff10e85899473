// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/sigil-dev/reel/internal/media"
	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/server"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec registers every route against in-memory stores and no-op
// services, then extracts the OpenAPI document huma builds from the handler
// types. Handlers are never invoked.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "creating server")
	}
	defer func() { _ = srv.Close() }()

	err = srv.RegisterServices(&server.Services{
		Videos:   store.NewMemoryVideoStore(),
		Index:    store.NewMemoryIndex(),
		Ingest:   stubIngest{},
		Query:    stubQuery{},
		Media:    stubMedia{},
		Progress: progress.NewBroadcaster(),
		DataDir:  os.TempDir(),
	})
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "registering routes")
	}

	err = srv.RegisterConfig(&server.ConfigDeps{
		Secrets:  stubSecrets{},
		Validate: func(context.Context, string, string) error { return nil },
	})
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeCLISetupFailure, "registering config routes")
	}

	spec, err := json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
	if err != nil {
		return nil, reelerr.Errorf(reelerr.CodeCLISetupFailure, "encoding spec: %w", err)
	}
	return spec, nil
}

// No-op service stubs for OpenAPI generation.

type stubIngest struct{}

func (stubIngest) Start(context.Context, string) error      { return nil }
func (stubIngest) StartAudio(context.Context, string) error { return nil }
func (stubIngest) Stop(context.Context, string) error       { return nil }
func (stubIngest) Running(string) bool                      { return false }

type stubQuery struct{}

func (stubQuery) Answer(context.Context, string, string, int) retrieval.Answer {
	return retrieval.Answer{}
}

func (stubQuery) GlobalSearch(context.Context, string, int, bool) retrieval.GlobalResult {
	return retrieval.GlobalResult{}
}

type stubMedia struct{}

func (stubMedia) Metadata(context.Context, string) (media.Metadata, error) {
	return media.Metadata{}, nil
}

func (stubMedia) Thumbnail(context.Context, string, float64) (image.Image, error) {
	return nil, nil
}

type stubSecrets struct{}

func (stubSecrets) Store(string, string, string) error      { return nil }
func (stubSecrets) Retrieve(string, string) (string, error) { return "", nil }
func (stubSecrets) Delete(string, string) error             { return nil }
func (stubSecrets) List(string) ([]string, error)           { return nil, nil }
