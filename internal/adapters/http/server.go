package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

// RunSource reports the progress of the current run.
type RunSource interface {
	Snapshot() scheduler.Report
}

// Server exposes harness status over HTTP.
type Server struct {
	Run     RunSource
	Ledger  ports.Ledger
	Metrics http.Handler
	Version string
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version string           `json:"version"`
	Run     *scheduler.Report `json:"run,omitempty"`
	Ledger  *domain.RunStats  `json:"ledger,omitempty"`
}

// NewHandler creates the status router.
func NewHandler(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Health)
	r.Get("/status", s.Status)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	return r
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Version: s.Version}
	if s.Run != nil {
		snap := s.Run.Snapshot()
		resp.Run = &snap
	}
	if s.Ledger != nil {
		stats, err := s.Ledger.Stats(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("ledger error: %v", err), http.StatusServiceUnavailable)
			return
		}
		resp.Ledger = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("status server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
