// Package server exposes a read-only status endpoint for the bot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rewired-gh/marketpulse/internal/dataset"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rs/zerolog"
)

// CursorSource reports the poll cursor.
type CursorSource interface {
	Cursor() int
}

// RefresherSource reports the dataset refresher.
type RefresherSource interface {
	Status() dataset.Status
}

// RecipientCounter reports subscriber counts.
type RecipientCounter interface {
	CountRecipients() (total, active int, err error)
}

// Config holds server configuration
type Config struct {
	Addr      string
	Cursor    CursorSource
	Dataset   *dataset.State
	Refresher RefresherSource
	Store     RecipientCounter
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     logger.Component("server"),
		cfg:     cfg,
		started: time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// DatasetStatus is the dataset part of StatusResponse.
type DatasetStatus struct {
	Loaded     bool           `json:"loaded"`
	Rows       int            `json:"rows"`
	Version    int            `json:"version"`
	AcquiredAt *time.Time     `json:"acquired_at,omitempty"`
	Refresher  dataset.Status `json:"refresher"`
}

// RecipientStatus is the subscriber part of StatusResponse.
type RecipientStatus struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Cursor     int              `json:"cursor"`
	Uptime     string           `json:"uptime"`
	Dataset    DatasetStatus    `json:"dataset"`
	Recipients *RecipientStatus `json:"recipients,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Uptime: time.Since(s.started).Truncate(time.Second).String()}
	if s.cfg.Cursor != nil {
		resp.Cursor = s.cfg.Cursor.Cursor()
	}
	if s.cfg.Dataset != nil {
		resp.Dataset.Version = s.cfg.Dataset.Version()
		if d := s.cfg.Dataset.Current(); d != nil {
			resp.Dataset.Loaded = true
			resp.Dataset.Rows = d.Rows
			at := d.AcquiredAt
			resp.Dataset.AcquiredAt = &at
		}
	}
	if s.cfg.Refresher != nil {
		resp.Dataset.Refresher = s.cfg.Refresher.Status()
	}
	if s.cfg.Store != nil {
		total, active, err := s.cfg.Store.CountRecipients()
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to count recipients")
			http.Error(w, "Failed to count recipients", http.StatusInternalServerError)
			return
		}
		resp.Recipients = &RecipientStatus{Total: total, Active: active}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode status")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
