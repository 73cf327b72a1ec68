// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer: it connects handlers, middleware, and routes.
// It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server loads config.Config and passes it here. New() creates:
//
//	sqlite.DB        → UserDB, AuthProviderDB (repositories)
//	oauth.Registry   → Facebook, Instagram, Twitter clients
//	AuthService      → repositories + registry + metrics
//	UserService      → repositories
//	handlers         → services + SessionCodec
//
// Everything is wired in one place (New/setupRoutes), the "composition root".
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/iayvob/Ads-Analytics-V2/internal/auth"
	"github.com/iayvob/Ads-Analytics-V2/internal/config"
	"github.com/iayvob/Ads-Analytics-V2/internal/handler"
	"github.com/iayvob/Ads-Analytics-V2/internal/metrics"
	"github.com/iayvob/Ads-Analytics-V2/internal/middleware"
	"github.com/iayvob/Ads-Analytics-V2/internal/model"
	"github.com/iayvob/Ads-Analytics-V2/internal/oauth"
	"github.com/iayvob/Ads-Analytics-V2/internal/ratelimit"
	sqliteRepo "github.com/iayvob/Ads-Analytics-V2/internal/repository/sqlite"
	"github.com/iayvob/Ads-Analytics-V2/internal/service"
)

// upstreamTimeout bounds every call to a provider's token, identity or
// revoke endpoint.
const upstreamTimeout = 10 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when REDIS_ADDR is set, the
// Redis client. Both are closed by Close, which Start calls on shutdown.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	metrics *metrics.Metrics
	limiter ratelimit.Limiter
	redis   *redis.Client
}

// Option customises New. Used by tests to point providers at fakes.
type Option func(*options)

type options struct {
	endpoints  map[model.ProviderName]oauth.Endpoints
	httpClient *http.Client
}

// WithProviderEndpoints overrides one provider's URLs.
func WithProviderEndpoints(p model.ProviderName, ep oauth.Endpoints) Option {
	return func(o *options) { o.endpoints[p] = ep }
}

// WithHTTPClient replaces the client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New opens the database and wires every dependency.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{
		endpoints:  map[model.ProviderName]oauth.Endpoints{},
		httpClient: &http.Client{Timeout: upstreamTimeout},
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New("ads_auth"),
	}

	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.limiter = ratelimit.NewRedis(s.redis, "rl:", cfg.RateLimitMax, cfg.RateLimitWindow)
		logger.Info("rate limiting backed by redis", "addr", cfg.RedisAddr)
	} else {
		s.limiter = ratelimit.NewMemory(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	if err := s.setupRoutes(o); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *Server) providers(o options) *oauth.Registry {
	opt := func(p model.ProviderName) oauth.Options {
		return oauth.Options{
			Endpoints:  o.endpoints[p],
			HTTPClient: o.httpClient,
			Logger:     s.logger,
		}
	}
	return oauth.NewRegistry(
		oauth.NewFacebook(
			oauth.Credentials{ClientID: s.config.Facebook.ClientID, ClientSecret: s.config.Facebook.ClientSecret},
			s.config.Facebook.BusinessConfigID,
			opt(model.ProviderFacebook),
		),
		oauth.NewInstagram(
			oauth.Credentials{ClientID: s.config.Instagram.ClientID, ClientSecret: s.config.Instagram.ClientSecret},
			opt(model.ProviderInstagram),
		),
		oauth.NewTwitter(
			oauth.Credentials{ClientID: s.config.Twitter.ClientID, ClientSecret: s.config.Twitter.ClientSecret},
			opt(model.ProviderTwitter),
		),
	)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                      → database ping
// GET    /metrics                      → Prometheus
// POST   /auth/{provider}/login        → start OAuth, returns authUrl
// GET    /auth/{provider}/callback     → provider redirect target
// POST   /auth/{provider}/logout       → disconnect one provider  [session]
// POST   /auth/logout                  → disconnect everything
// GET    /auth/status                  → connection status
// GET    /api/user/profile             → profile                  [session]
// PUT    /api/user/profile             → update profile           [session]
// GET    /api/admin/stats              → user/provider counts     [session]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, RealIP: before logging and rate limiting read them
// 2. Logger, Metrics: observe the final status, including recovered panics
// 3. Recoverer: turns panics into 500
// 4. CORS: answers preflights before any session work
// 5. LoadSession: decodes the cookie once per request
// /auth and /api add RateLimit; /api adds RequireSession.
func (s *Server) setupRoutes(o options) error {
	codec, err := auth.NewSessionCodec(s.config.SessionSecret, s.logger,
		auth.WithSecureCookies(s.config.IsProduction()),
	)
	if err != nil {
		return err
	}

	users := s.db.Users()
	tokens := s.db.AuthProviders()

	authService := service.NewAuthService(s.providers(o), users, tokens, s.config.RedirectURI, s.metrics, s.logger)
	userService := service.NewUserService(users, tokens, s.logger)

	authHandler := handler.NewAuthHandler(authService, codec, s.config.BaseURL(), s.logger)
	userHandler := handler.NewUserHandler(userService, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{s.config.BaseURL()}
	}

	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(auth.LoadSession(codec))

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	rateLimit := middleware.RateLimit(s.limiter, s.metrics, s.logger)

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(rateLimit)
		r.Get("/status", authHandler.HandleStatus)
		r.Post("/logout", authHandler.HandleLogoutAll)
		r.Post("/{provider}/login", authHandler.HandleLogin)
		r.Get("/{provider}/callback", authHandler.HandleCallback)
		r.With(auth.RequireSession).Post("/{provider}/logout", authHandler.HandleDisconnect)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(auth.RequireSession)
		r.Get("/user/profile", userHandler.HandleGetProfile)
		r.Put("/user/profile", userHandler.HandleUpdateProfile)
		r.Get("/admin/stats", userHandler.HandleStats)
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the database (flushes WAL, releases the file lock) and Redis
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Callbacks make up to three sequential upstream calls.
		WriteTimeout: 3*upstreamTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("port", s.config.Port),
			slog.String("env", s.config.Env),
			slog.String("app_url", s.config.BaseURL()),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
