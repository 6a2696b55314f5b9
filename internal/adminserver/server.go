// Package adminserver exposes a minimal operational HTTP surface next to
// the batch loader process: liveness and the most recent run's audit
// summary, so an operator can check status without a SQL client.
package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/malbeclabs/medgen-loader/internal/audit"
)

// Config holds the admin server's listen address and timeouts.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9090"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the admin HTTP server.
type Server struct {
	log     *slog.Logger
	cfg     Config
	auditor *audit.Log
	httpSrv *http.Server
}

// New builds a Server reading from auditor.
func New(log *slog.Logger, cfg Config, auditor *audit.Log) *Server {
	cfg.setDefaults()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET"},
	}))

	s := &Server{log: log, cfg: cfg, auditor: auditor}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/runs/latest", s.handleLatestRun)

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	s.log.Info("admin server listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, found, err := s.auditor.Latest(r.Context())
	if err != nil {
		s.log.Error("failed to read latest run", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(run); err != nil {
		s.log.Error("failed to write latest run response", "error", err)
	}
}
