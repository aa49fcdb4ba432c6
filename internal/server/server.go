// ABOUTME: Server orchestrator: wires store, services, hub, gateway, and API together
// ABOUTME: Owns the HTTP listener lifecycle and the graceful shutdown sequence

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/realtime"
	"github.com/parley-chat/parley/internal/store"
)

const shutdownGrace = 5 * time.Second

// Server is the assembled parley process.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.SQLiteStore
	hub        *hub.Hub
	httpServer *http.Server

	mu   sync.Mutex
	addr string
}

// New opens the store and wires every component. The returned server owns
// the store and closes it on shutdown.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	m := metrics.New()
	tokens := auth.NewService([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, st, logger)
	convs := conversation.New(st, logger)
	groups := conversation.NewGroupService(st, convs, logger)

	h := hub.New(cfg.Hub.HeartbeatInterval, cfg.Hub.AuthTimeout, m, logger)
	gw := realtime.NewGateway(h, st, convs, tokens, m, cfg.Hub.TypingTimeout, logger)

	a := api.New(api.Deps{
		Store:         st,
		Tokens:        tokens,
		Conversations: convs,
		Groups:        groups,
		Broadcast:     gw,
		Hub:           h,
		Metrics:       m,
		WSHandler:     gw.HandleWS,
		Logger:        logger,
	})

	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		store:  st,
		hub:    h,
		httpServer: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the bound listen address, or "" before Run has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully. Blocks for the lifetime of the process.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.hub.StartHeartbeat()
	s.logger.Info("server listening", "addr", ln.Addr().String(), "env", s.cfg.Env)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		s.logger.Error("http server failed", "error", serveErr)
	}

	// The run context is already canceled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// Shutdown closes live WebSocket sessions, drains the HTTP server, and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.hub.Shutdown(ctx)
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("shutdown complete")
	return nil
}
