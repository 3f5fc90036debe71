// Package web serves the diagnostic HTTP endpoints: liveness and the
// processing counters. It is optional and only started when a listen
// address is configured.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sarlink/atruci/service"
)

type Server struct {
	addr   string
	stats  *service.Stats
	server *http.Server
}

func NewServer(addr string, stats *service.Stats) *Server {
	return &Server{addr: addr, stats: stats}
}

// Start serves until Shutdown is called. It blocks, mirroring
// http.Server.ListenAndServe.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	s.server = &http.Server{Addr: s.addr, Handler: r}
	slog.Info("Starting status endpoint", "addr", s.addr)

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	status := http.StatusOK
	if !snap.Connected {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]bool{"connected": snap.Connected})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.Snapshot())
}
