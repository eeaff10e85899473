// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/reel/internal/config"
	"github.com/sigil-dev/reel/internal/server"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// keyCheckClient validates provider keys submitted to the config endpoint.
var keyCheckClient = &http.Client{Timeout: 10 * time.Second}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reel HTTP server",
		Long:  "Load configuration, open storage and model providers, and serve the HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen")); err != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "binding listen flag: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv, err := NewServer(app)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if n, err := app.Pipeline.RecoverInterrupted(ctx); err != nil {
		slog.Warn("recovering interrupted runs", "error", err)
	} else if n > 0 {
		slog.Info("reset interrupted runs to pending", "count", n)
	}

	if app.Relay != nil {
		go func() {
			if err := app.Relay.Run(ctx); err != nil {
				slog.Error("progress relay stopped", "error", err)
			}
		}()
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving reel on %s (data: %s)\n", cfg.Server.Listen, app.DataDir)
	err = srv.Start(ctx)

	slog.Info("waiting for in-flight ingestion")
	app.Pipeline.Wait()
	return err
}

// NewServer builds the HTTP server over the wired app.
func NewServer(app *App) (*server.Server, error) {
	cfg := app.Config
	if len(cfg.Server.AuthTokens) == 0 {
		slog.Warn("authentication disabled: no auth tokens configured, all endpoints are unauthenticated")
	}

	srv, err := server.New(serverConfig(cfg))
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "creating server")
	}
	if err := srv.RegisterServices(&server.Services{
		Videos:    app.Videos,
		Index:     app.Index,
		Ingest:    app.Pipeline,
		Query:     app.Engine,
		Media:     app.Sampler,
		Progress:  app.Events,
		Providers: app.Providers,
		DataDir:   app.DataDir,
	}); err != nil {
		_ = srv.Close()
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "registering routes")
	}
	if err := srv.RegisterConfig(&server.ConfigDeps{
		Secrets:  secretStoreFactory(),
		Validate: server.DefaultKeyValidator(keyCheckClient),
	}); err != nil {
		_ = srv.Close()
		return nil, reelerr.Wrap(err, reelerr.CodeCLISetupFailure, "registering config routes")
	}
	return srv, nil
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		ListenAddr:     cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		TrustedProxies: cfg.Server.TrustedProxies,
		AuthTokens:     cfg.Server.AuthTokens,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		ThumbnailWidth:  cfg.Ingest.ThumbnailWidth,
		ThumbnailHeight: cfg.Ingest.ThumbnailHeight,
		Version:         version,
	}
}

// contextOrBackground guards commands invoked without Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
