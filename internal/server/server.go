package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dygy/piano-grep/internal/config"
	"github.com/dygy/piano-grep/internal/pipeline"
)

// Server is the HTTP server
type Server struct {
	settings *config.Config
	router   *chi.Mux
	logger   *slog.Logger
	jobs     *JobManager
}

// New creates a new server. opts are passed to every job's orchestrator.
func New(settings *config.Config, logger *slog.Logger, opts ...pipeline.Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jobs, err := NewJobManager(settings, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("job manager: %w", err)
	}

	s := &Server{
		settings: settings,
		router:   chi.NewRouter(),
		logger:   logger,
		jobs:     jobs,
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.settings.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/jobs", s.handleCreateJob)

		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Get("/events", s.handleEvents)
			r.Get("/transcription", s.handleTranscription)
			r.Get("/midi", s.handleDownloadMIDI)
			r.Get("/pdf", s.handleDownloadPDF)
			r.Get("/report", s.handleReport)
		})
	})
}

// ServeHTTP lets the server be used as a handler directly
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.settings.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute, // large uploads
		WriteTimeout: 0,               // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.Int("port", s.settings.Server.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.Any("error", err))
	}
	if err := s.jobs.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("jobs did not stop", slog.Any("error", err))
	}
	return nil
}
