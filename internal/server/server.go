package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/notezilla/apiserver/config"
	"github.com/notezilla/apiserver/internal/db"
	"github.com/notezilla/apiserver/internal/handlers"
	"github.com/notezilla/apiserver/internal/logging"
	"github.com/notezilla/apiserver/internal/metrics"
	"github.com/notezilla/apiserver/internal/mq"
	"github.com/notezilla/apiserver/internal/services"
	"github.com/notezilla/apiserver/internal/storage"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/internal/summarization"
	"github.com/notezilla/apiserver/internal/transcription"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	apiPrefix       = "/api/v1"
	seedAdminEmail  = "admin@admin.admin"
	seedAdminPass   = "admin"
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
	drainMargin     = 2 * time.Minute
)

// Dependencies are the collaborators the HTTP API is built from.
type Dependencies struct {
	DB          *sql.DB
	Blobs       services.BlobStore
	Transcriber services.Transcriber
	Summarizer  services.Summarizer
	Events      services.EventPublisher
	Logger      zerolog.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer      *http.Server
	router          *chi.Mux
	db              *sql.DB
	events          *mq.MQ
	logger          zerolog.Logger
	shutdownTimeout time.Duration
}

// New migrates the database, connects every backend and builds the server.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.NewLogger(cfg.Log, nil)
	ctx = logger.WithContext(ctx)

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	if err := db.MigrateUp(cfg.Database); err != nil {
		return nil, err
	}
	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init storage failed: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("ensure bucket failed: %w", err)
	}

	backend, err := mq.NewBackend(ctx, cfg.Events)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init events failed: %w", err)
	}
	broker := mq.New(backend, cfg.Events.Channel)

	router, err := NewRouter(ctx, cfg, Dependencies{
		DB:          dbConn,
		Blobs:       blobs,
		Transcriber: transcription.NewClient(cfg.Transcription),
		Summarizer:  summarization.NewClient(cfg.Summarization),
		Events:      broker,
		Logger:      logger,
	})
	if err != nil {
		_ = broker.Close()
		_ = dbConn.Close()
		return nil, err
	}

	port := cfg.ServerPort
	if port == 0 {
		port = 3000
	}

	// Uploads wait for transcription and summarization before responding.
	uploadBudget := cfg.Transcription.Timeout + cfg.Summarization.Timeout + drainMargin

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      uploadBudget,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer:      httpServer,
		router:          router,
		db:              dbConn,
		events:          broker,
		logger:          logger,
		shutdownTimeout: uploadBudget,
	}, nil
}

// NewRouter seeds the admin account and registers every route. Routes are
// served under /api/v1 and, for older clients, at the root.
func NewRouter(ctx context.Context, cfg config.Config, deps Dependencies) (*chi.Mux, error) {
	userRepo := store.NewUserRepository(deps.DB, cfg.Database.Driver)
	videoRepo := store.NewVideoRepository(deps.DB, cfg.Database.Driver)
	statsRepo := store.NewStatsRepository(deps.DB, cfg.Database.Driver)

	userService := services.NewUserService(userRepo)
	videoService := services.NewVideoService(videoRepo, deps.Blobs, deps.Events)
	ingestService := services.NewIngestService(deps.Blobs, deps.Transcriber, deps.Summarizer, videoRepo, deps.Events)
	adminService := services.NewAdminService(userRepo, statsRepo)

	if err := userService.EnsureAdmin(deps.Logger.WithContext(ctx), seedAdminEmail, seedAdminPass); err != nil {
		return nil, fmt.Errorf("seed admin failed: %w", err)
	}

	authMiddleware := handlers.RequireAuth(cfg.Auth.JWTSecret)
	quotaMiddleware := handlers.RequireQuota(userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logging.Middleware(deps.Logger),
		middleware.Recoverer,
		corsHandler(cfg.AllowedOrigins),
		metrics.Middleware(logging.RoutePattern),
		handlers.TrackEndpoint(adminService, logging.RoutePattern),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", metrics.Handler())

	routes := func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			handlers.AuthRouter(r, userService, cfg.Auth)
		})
		r.Route("/user", func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			handlers.UserRouter(r, userService, authMiddleware)
		})
		r.Route("/videos", func(r chi.Router) {
			handlers.VideoRouter(r, ingestService, videoService, authMiddleware, quotaMiddleware)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			handlers.AdminRouter(r, adminService, authMiddleware)
		})
	}
	router.Route(apiPrefix, routes)
	router.Group(routes)

	return router, nil
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	}).Handler
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down. It does not wait for
// Shutdown to finish draining; use Run for that.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// closes the backends before returning.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	served := make(chan error, 1)
	go func() {
		served <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-served:
		s.closeBackends()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Dur("timeout", s.drainTimeout()).Msg("draining in-flight requests")
	return s.Shutdown()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes the
// backends.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout())
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.closeBackends()
	return err
}

func (s *Server) drainTimeout() time.Duration {
	if s.shutdownTimeout > 0 {
		return s.shutdownTimeout
	}
	return shutdownTimeout
}

func (s *Server) closeBackends() {
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
