// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the storage backend, the
// store, the services, the notifier, the handlers and the middleware, and
// decides which URL patterns map to which handler functions and how the
// server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → repository (file.Dir or sqlite.DB)
//	  → store.Store (owns the run-queue)
//	  → service.ListService / service.UserService (+ notify.Notifier)
//	  → handler.*Handler
//	  → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sakif/shared-lists/internal/config"
	"github.com/sakif/shared-lists/internal/handler"
	"github.com/sakif/shared-lists/internal/metrics"
	"github.com/sakif/shared-lists/internal/middleware"
	"github.com/sakif/shared-lists/internal/notify"
	"github.com/sakif/shared-lists/internal/repository"
	fileRepo "github.com/sakif/shared-lists/internal/repository/file"
	sqliteRepo "github.com/sakif/shared-lists/internal/repository/sqlite"
	"github.com/sakif/shared-lists/internal/service"
	"github.com/sakif/shared-lists/internal/store"
)

// eventWriteTimeout bounds a single write to an event stream. Event
// streams are long-lived, so each write gets its own deadline instead of
// the server-wide WriteTimeout.
const eventWriteTimeout = 10 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store (and through it the storage backend) and the
// notifier. Close releases them in the right order: subscribers first, so
// their open streams end, then the store, which finishes queued writes
// before closing the backend.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	notifier *notify.Notifier
	limiter  *middleware.RateLimiter
}

// New creates a new Server with the given config.
//
// Each layer only receives what it needs:
//   - the store gets the repository interface (not the concrete backend)
//   - services get the store and something to broadcast changes to
//   - handlers get the services (never the store or the backend)
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	m := metrics.New()

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, repo, logger.With(slog.String("component", "store")), store.Options{
		FailOnCorrupt: cfg.StrictLoad,
		Metrics:       m,
	})
	if err != nil {
		repo.Close() // Clean up the backend if the documents can't be loaded
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		metrics: m,
		store:   st,
		notifier: notify.New(logger.With(slog.String("component", "notifier")), notify.Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			StaleTimeout:      cfg.StaleTimeout,
			Metrics:           m,
		}),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow, logger, m),
	}

	s.setupRoutes()
	return s, nil
}

// openRepository creates the storage backend chosen by STORE_BACKEND.
func openRepository(cfg config.Config) (repository.DocumentRepository, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	default:
		dir, err := fileRepo.New(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening data directory: %w", err)
		}
		return dir, nil
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                          → liveness + subscriber count
//	GET    /metrics                          → Prometheus metrics
//	GET    /api/items/{list}                 → items of a list
//	POST   /api/items/{list}                 → add item
//	DELETE /api/items/{list}                 → clear list
//	DELETE /api/items/{list}/completed       → delete completed items
//	PATCH  /api/items/{list}/{id}            → update item
//	DELETE /api/items/{list}/{id}            → delete item
//	POST   /api/items/{list}/{id}/amount     → adjust amount
//	GET    /api/lists                        → list summaries
//	POST   /api/lists                        → create list
//	GET    /api/lists/{list}                 → one summary
//	DELETE /api/lists/{list}                 → delete list
//	GET    /api/users                        → users
//	POST   /api/users/register               → register user
//	DELETE /api/users/{username}             → delete user
//	GET    /api/favorites/{username}         → favourites
//	POST   /api/favorites/{username}/{list}  → toggle favourite
//	GET    /api/events                       → Server-Sent Events
//	GET    /api/events/ws                    → WebSocket events
//	GET    /*                                → static files
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the real client IP from proxy headers
//  3. Logger: logs each request with timing info and records metrics
//  4. Recoverer: catches panics and returns 500 instead of crashing
//  5. CORS: answers preflight requests before routing
//
// The rate limiter only runs on /api.
func (s *Server) setupRoutes() {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.metrics))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSOrigin))

	// === Operational Routes ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	// === API Routes ===
	// DEPENDENCY CHAIN:
	//   s.store → ListService / UserService → handlers
	// The notifier is handed to the services as their Broadcaster and to
	// the events handler as the subscription source.
	lists := service.NewListService(s.store, s.notifier, s.logger, s.metrics)
	users := service.NewUserService(s.store, s.notifier, s.logger, s.metrics)

	itemHandler := handler.NewItemHandler(lists, s.logger)
	listHandler := handler.NewListHandler(lists, s.logger)
	userHandler := handler.NewUserHandler(users, s.logger)
	eventsHandler := handler.NewEventsHandler(s.notifier, eventWriteTimeout, s.config.CORSOrigin, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Handler)

		r.Get("/items/{list}", itemHandler.HandleList)
		r.Post("/items/{list}", itemHandler.HandleAdd)
		r.Delete("/items/{list}", itemHandler.HandleClear)
		r.Delete("/items/{list}/completed", itemHandler.HandleDeleteCompleted)
		r.Patch("/items/{list}/{id}", itemHandler.HandleUpdate)
		r.Delete("/items/{list}/{id}", itemHandler.HandleDelete)
		r.Post("/items/{list}/{id}/amount", itemHandler.HandleAdjustAmount)

		r.Get("/lists", listHandler.HandleList)
		r.Post("/lists", listHandler.HandleCreate)
		r.Get("/lists/{list}", listHandler.HandleGet)
		r.Delete("/lists/{list}", listHandler.HandleDelete)

		r.Get("/users", userHandler.HandleList)
		r.Post("/users/register", userHandler.HandleRegister)
		r.Delete("/users/{username}", userHandler.HandleDelete)

		r.Get("/favorites/{username}", userHandler.HandleFavorites)
		r.Post("/favorites/{username}/{list}", userHandler.HandleToggleFavorite)

		r.Get("/events", eventsHandler.HandleSSE)
		r.Get("/events/ws", eventsHandler.HandleWebSocket)
	})

	// === Static Files ===
	// The list UI is a static bundle; http.FileServer serves index.html
	// for "/" and everything else by path below StaticDir.
	s.router.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
}

// handleHealth reports liveness.
//
// HTTP: GET /healthz
// RESPONSE: {"status": "ok", "subscribers": 3}
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","subscribers":%d}`+"\n", s.notifier.Count())
}

// Handler returns the root handler, wrapped for HTTP/2 over cleartext.
//
// WHY h2c?
// Browsers allow only ~6 HTTP/1.1 connections per origin, and every open
// event stream holds one. Over HTTP/2 all streams share one connection.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.router, &http2.Server{})
}

// Close stops the notifier and closes the store.
func (s *Server) Close() error {
	s.notifier.Stop()
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Evict every event subscriber (their streams would otherwise keep
//     Shutdown waiting forever)
//  2. Stop accepting new HTTP connections
//  3. Wait for in-flight requests to finish (30s timeout)
//  4. Close the store: queued writes finish, then the backend closes
func (s *Server) Start() error {
	// Create the HTTP server with sensible timeouts. WriteTimeout doesn't
	// cut event streams short: their sinks push the deadline forward on
	// every write.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.notifier.Start()

	stopCleanup := make(chan struct{})
	go s.limiter.Run(stopCleanup)

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("backend", s.config.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	var runErr error

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		// Server failed to start
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		s.notifier.Stop()

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	close(stopCleanup)
	if err := s.Close(); err != nil {
		s.logger.Error("closing store", slog.String("error", err.Error()))
	}
	if runErr == nil {
		s.logger.Info("server stopped gracefully")
	}
	return runErr
}
