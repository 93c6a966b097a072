// Package api provides the HTTP REST API and WebSocket server for the
// Insteon bridge daemon.
//
// It exposes bridge status, device discovery, command dispatch, state
// history queries, and a real-time event stream to user interfaces and
// automation controllers.
//
// Lifecycle matches the other infrastructure components: New, Start,
// Close. All methods are safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/homebrain/insteon-core/internal/bridge"
	"github.com/homebrain/insteon-core/internal/events"
	"github.com/homebrain/insteon-core/internal/history"
	"github.com/homebrain/insteon-core/internal/infrastructure/config"
	"github.com/homebrain/insteon-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests before dropping connections.
const gracefulShutdownTimeout = 10 * time.Second

// Deps collects everything the server needs; New rejects missing ones.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   *bridge.Bridge
	History  history.Repository // optional: history endpoint returns 503 when nil
	Pipeline *events.Pipeline
	Version  string
}

// Server owns the HTTP listener, the chi router, and the WebSocket hub.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	bridge   *bridge.Bridge
	history  history.Repository
	pipeline *events.Pipeline
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New validates deps and returns a server ready for Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("event pipeline is required")
	}
	// History may be nil; the history endpoint answers 503 without it.

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		bridge:   deps.Bridge,
		history:  deps.History,
		pipeline: deps.Pipeline,
		version:  deps.Version,
	}, nil
}

// Start launches the WebSocket hub and the HTTP listener. The listener
// runs in a background goroutine until Close.
func (s *Server) Start(ctx context.Context) error {
	// Derived context lets Close stop the hub even when the parent
	// context outlives the server.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.pipeline, s.logger)
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub and drains the HTTP listener, waiting up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
