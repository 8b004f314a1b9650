// Package server provides the HTTP server and routing for Ingot.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/config"
	"github.com/ingotlab/ingot/internal/database"
	"github.com/ingotlab/ingot/internal/events"
	"github.com/ingotlab/ingot/internal/modules/assets"
	"github.com/ingotlab/ingot/internal/modules/backup"
	"github.com/ingotlab/ingot/internal/modules/history"
	syncmod "github.com/ingotlab/ingot/internal/modules/sync"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	BullionDB   *database.DB
	CacheDB     *database.DB
	Config      *config.Config
	Port        int
	DevMode     bool
	AssetRepo   *assets.Repository
	HistoryRepo *history.Repository
	Coordinator *syncmod.Coordinator
	BackupSvc   *backup.Service
	Bus         *events.Bus
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	bullionDB      *database.DB
	cacheDB        *database.DB
	cfg            *config.Config
	handlers       *Handlers
	systemHandlers *SystemHandlers
	eventsHandler  *EventStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	handlers := NewHandlers(HandlersConfig{
		Log:         cfg.Log,
		AssetRepo:   cfg.AssetRepo,
		HistoryRepo: cfg.HistoryRepo,
		Coordinator: cfg.Coordinator,
		BackupSvc:   cfg.BackupSvc,
		Bus:         cfg.Bus,
		Backup:      cfg.Config.Backup,
	})

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		bullionDB:      cfg.BullionDB,
		cacheDB:        cfg.CacheDB,
		cfg:            cfg.Config,
		handlers:       handlers,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.BullionDB, cfg.CacheDB),
		eventsHandler:  NewEventStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Websocket event stream - no timeout middleware on this branch,
		// connections are long-lived.
		r.Get("/events/ws", s.eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/assets", func(r chi.Router) {
				r.Get("/", s.handlers.HandleListAssets)
				r.Post("/", s.handlers.HandleCreateAsset)
				r.Get("/{id}", s.handlers.HandleGetAsset)
				r.Put("/{id}", s.handlers.HandleUpdateAsset)
				r.Delete("/{id}", s.handlers.HandleDeleteAsset)
				r.Get("/{id}/history", s.handlers.HandleAssetHistory)
				r.Get("/{id}/stats", s.handlers.HandleAssetStats)
			})

			r.Route("/portfolio", func(r chi.Router) {
				r.Get("/curve", s.handlers.HandlePortfolioCurve)
				r.Get("/stats", s.handlers.HandlePortfolioStats)
			})

			r.Route("/sync", func(r chi.Router) {
				r.Post("/", s.handlers.HandleTriggerSync)
				r.Get("/report", s.handlers.HandleSyncReport)
			})

			r.Route("/backup", func(r chi.Router) {
				r.Get("/export", s.handlers.HandleBackupExport)
				r.Post("/restore", s.handlers.HandleBackupRestore)
				r.Post("/upload", s.handlers.HandleBackupUpload)
				r.Get("/list", s.handlers.HandleBackupList)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.systemHandlers.HandleHealth)
				r.Get("/stats", s.systemHandlers.HandleStats)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			})
		})
	})
}

// handleHealth is the liveness endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
