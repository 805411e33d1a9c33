// Package server exposes the help service over HTTP and pushes reload
// notifications to websocket clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/helpdeck/internal/config"
	"github.com/conneroisu/helpdeck/internal/help"
	"github.com/conneroisu/helpdeck/internal/logging"
	"github.com/conneroisu/helpdeck/internal/trigger"
)

// maxMessageBody bounds POST /message bodies.
const maxMessageBody = 4 << 10

// Server serves help menus over HTTP.
type Server struct {
	config      config.ServerConfig
	service     *help.Service
	router      *trigger.Router
	hub         *Hub
	limiter     *RateLimiter
	logger      logging.Logger
	tracer      trace.Tracer
	unsubscribe func()

	httpServer   *http.Server
	closed       bool
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// UpdateMessage is pushed to websocket clients.
type UpdateMessage struct {
	Type        string    `json:"type"`
	Generation  uint64    `json:"generation"`
	Digest      string    `json:"digest,omitempty"`
	Changed     bool      `json:"changed,omitempty"`
	Invalidated int       `json:"invalidated,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// New creates a server for svc. The server subscribes to reload events
// immediately; Shutdown releases the subscription.
func New(cfg config.ServerConfig, svc *help.Service, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("server")

	s := &Server{
		config:  cfg,
		service: svc,
		router:  trigger.NewRouter(svc),
		hub:     NewHub(cfg.AllowedOrigins, logger),
		logger:  logger,
		tracer:  otel.Tracer("helpdeck/server"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, burstFor(cfg.RateLimit), logger)
	}
	s.unsubscribe = svc.Subscribe(s.onReload)
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /menu", s.handleMenu)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /artifacts/{key}", s.handleArtifact)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	var h http.Handler = mux
	if s.limiter != nil {
		h = RateLimitMiddleware(s.limiter, "/health", "/ws")(h)
	}
	h = CORSMiddleware(s.config.AllowedOrigins)(h)
	h = SecurityHeaders(h)
	h = s.accessLog(h)
	h = s.tracing(h)
	h = RequestID(h)
	h = s.recoverer(h)
	return h
}

// Start runs the websocket hub and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.serverMutex.Lock()
	if s.closed {
		s.serverMutex.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes websocket clients and waits for
// in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.hub.Close()
		if s.limiter != nil {
			s.limiter.Stop()
		}

		s.serverMutex.Lock()
		s.closed = true
		server := s.httpServer
		s.serverMutex.Unlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) onReload(ev help.Event) {
	s.hub.BroadcastJSON(UpdateMessage{
		Type:        string(ev.Type),
		Generation:  ev.Generation,
		Digest:      ev.Digest,
		Changed:     ev.Changed,
		Invalidated: ev.Invalidated,
		Error:       ev.Error,
		Timestamp:   ev.At,
	})
}

// burstFor allows short bursts of a tenth of the per-minute rate.
func burstFor(perMinute int) int {
	if b := perMinute / 10; b > 1 {
		return b
	}
	return 1
}
