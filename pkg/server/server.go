// Package server exposes the tutoring controller over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/tutor/pkg/config"
	"github.com/pario-ai/tutor/pkg/tutor"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "tutor_session"

// Server is the tutor HTTP API.
type Server struct {
	cfg      *config.Config
	ctrl     *tutor.Controller
	router   chi.Router
	validate *validator.Validate
}

// New creates a Server with all routes registered.
func New(cfg *config.Config, ctrl *tutor.Controller) *Server {
	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Post("/login", s.handleLogin)
		api.Post("/logout", s.handleLogout)
		api.Post("/documents", s.handleUpload)
		api.Get("/documents", s.handleDocument)
		api.Get("/documents/previews/{n}", s.handlePreview)
		api.Post("/summary", s.handleSummary)
		api.Post("/chat", s.handleChat)
		api.Get("/history", s.handleHistory)
		api.Get("/usage", s.handleUsage)
		api.Get("/budget", s.handleBudget)
		api.Get("/admin/usage", s.handleAdminUsage)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support. While
// it runs, sessions whose lease lapsed are swept once per session timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tutor listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.Timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ctrl.Sweep(ctx)
			if err != nil {
				slog.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired sessions dropped", "count", n)
			}
		}
	}
}
