package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/taskrelay/internal/api/v1"
	"github.com/gosuda/taskrelay/internal/api/ws"
	"github.com/gosuda/taskrelay/internal/config"
	"github.com/gosuda/taskrelay/internal/messenger/slack"
	"github.com/gosuda/taskrelay/internal/server/middleware"
	"github.com/gosuda/taskrelay/internal/stream"
)

// Deps are the application services the HTTP surface exposes.
type Deps struct {
	Automations v1.AutomationService
	Documents   v1.DocumentParser    // nil disables document parsing
	Streams     *stream.Publisher
	Relay       ws.ChannelSubscriber // nil disables the Redis relay endpoint
	Checks      map[string]Pinger    // dependencies probed by /readyz
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds background work
// owned by the middleware stack, such as rate limiter sweeping.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "Cache-Control"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	authCfg := middleware.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, APIKeys: cfg.Auth.APIKeys}
	triggerLimit := middleware.RateLimitByIP(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	hub := ws.NewHub(deps.Streams, deps.Relay)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(writesOnly(triggerLimit))
		if authCfg.Enabled() {
			subjectRPS, subjectBurst := cfg.RateLimit.Subject()
			r.Use(middleware.Auth(authCfg))
			r.Use(writesOnly(middleware.RequireOperator()))
			r.Use(writesOnly(middleware.RateLimitBySubject(ctx, subjectRPS, subjectBurst)))
		}

		r.Method(http.MethodGet, "/stream-logs", stream.NewSSEHandler(deps.Streams, cfg.Server.KeepAlive))

		apiConfig := huma.DefaultConfig("taskrelay API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, deps)
	})

	router.Route("/ws", func(r chi.Router) {
		if authCfg.Enabled() {
			r.Use(middleware.Auth(authCfg))
		}
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", handleHealthz)
	router.Get("/readyz", readyzHandler(deps.Checks))

	// Slack signs its own requests, so this stays outside API auth.
	if cfg.SlackCommandsEnabled() {
		router.Method(http.MethodPost, "/slack/commands", slack.NewHandler(cfg.Slack.SigningSecret, deps.Automations))
	}

	if !hub.HasRelay() {
		log.Info().Msg("server: redis relay disabled")
	}
	if deps.Documents == nil {
		log.Info().Msg("server: document parsing disabled")
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("server: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

// writesOnly applies mw to state-changing requests and lets reads through.
func writesOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				guarded.ServeHTTP(w, r)
			}
		})
	}
}
