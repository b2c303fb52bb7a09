package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PCL-Community/PCL.Core-sub001/internal/app"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// StatusSource supplies the /state snapshot. *app.Controller satisfies it.
type StatusSource interface {
	Status() app.Status
}

// Server serves the event feed.
type Server struct {
	Hub    *Hub
	Status StatusSource
	// Metrics enables the /metrics endpoint.
	Metrics bool
}

// NewServer creates a server publishing through hub.
func NewServer(hub *Hub, status StatusSource) *Server {
	return &Server{Hub: hub, Status: status, Metrics: true}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/state", s.handleState)
	r.Get("/ws", s.Hub.handleWS)
	if s.Metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(util.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.Status == nil {
		http.Error(w, "no controller", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status.Status()); err != nil {
		util.LogWarning("[events] failed to write state: %v", err)
	}
}

// Start listens on addr and serves in the background until ctx is
// cancelled. It returns the bound address.
func (s *Server) Start(ctx context.Context, addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start event server: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("[events] server stopped: %v", err)
		}
	}()

	util.LogInfo("[events] serving on http://%s", listener.Addr())
	return listener.Addr(), nil
}
