// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sigil-dev/reel/internal/library"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TrustedProxies lists CIDRs allowed to set X-Forwarded-For. Empty
	// trusts forwarding headers from any peer.
	TrustedProxies []string
	// AuthTokens enables bearer authentication when non-empty.
	AuthTokens []string
	RateLimit  RateLimitConfig
	// MaxUploadBytes caps a single upload; zero uses 4 GiB.
	MaxUploadBytes int64
	// ThumbnailWidth and ThumbnailHeight bound generated thumbnails.
	ThumbnailWidth  int
	ThumbnailHeight int
	// Version is reported in the OpenAPI document.
	Version string
}

const defaultMaxUpload = 4 << 30

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	library  *library.Library
	config   *ConfigDeps
	tokens   *tokenSet

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with chi router, huma API, health endpoint, and CORS.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, reelerr.New(reelerr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	tokens, err := newTokenSet(cfg.AuthTokens)
	if err != nil {
		return nil, err
	}
	clientIP, err := clientIPMiddleware(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:    cfg,
		tokens: tokens,
		done:   make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(clientIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware(cfg.RateLimit, srv.done))
	r.Use(srv.authMiddleware)

	humaConfig := huma.DefaultConfig("Reel API", cfg.Version)
	humaConfig.Info.Description = "Searchable, timestamped semantic index over video"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	srv.router = r
	srv.api = api
	return srv, nil
}

// RegisterServices sets the service dependencies and registers the API
// routes. It must be called once, before Start.
func (s *Server) RegisterServices(svc *Services) error {
	if err := svc.validate(); err != nil {
		return err
	}
	s.services = svc
	s.library = &library.Library{
		Videos:          svc.Videos,
		Index:           svc.Index,
		Media:           svc.Media,
		DataDir:         svc.DataDir,
		ThumbnailWidth:  s.cfg.ThumbnailWidth,
		ThumbnailHeight: s.cfg.ThumbnailHeight,
	}
	s.registerVideoRoutes()
	s.registerIngestRoutes()
	s.registerQueryRoutes()
	s.registerProgressRoute()
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return reelerr.Wrapf(err, reelerr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	// WriteTimeout stays zero when unset: progress streams are long-lived.
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return reelerr.Wrap(err, reelerr.CodeServerStartFailure, "serving")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return reelerr.Wrap(err, reelerr.CodeServerShutdownFailure, "shutting down")
	}
	return <-errCh
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Length", "Content-Range"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
