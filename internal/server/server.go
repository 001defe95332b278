// Package server implements the OpenAI-compatible HTTP front of the proxy:
// the model catalog, the chat completion endpoint, the sideband event
// streams, and the middleware stack around them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborai/boost/internal/config"
	"github.com/harborai/boost/internal/mapper"
	"github.com/harborai/boost/internal/modules"
	"github.com/harborai/boost/internal/session"
)

// Server wires the configuration, the session registry and the model mapper
// behind the HTTP mux.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *session.Store
	mapper *mapper.Mapper
	client *http.Client

	httpServer *http.Server
}

// New builds a server. The mapper learns the synthetic id prefixes from the
// compiled-in module registry.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{}
	store := session.NewStore()
	registerSessionGauge(store)

	return &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		mapper: mapper.New(cfg, modules.Prefixes(), logger, client),
		client: client,
	}
}

// Handler assembles the mux and the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /events/{id}", s.handleEvents)
	mux.HandleFunc("GET /events/{id}/ws", s.handleEventsWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = authMiddleware(s.cfg, s.logger)(handler)
	handler = metricsMiddleware(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer = server

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("starting http server", "addr", addr, "modules", s.cfg.Modules)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
