// Package api is the HTTP control plane over a live audit: stop and message
// operations on running agents, graph and findings introspection, health,
// and the WebSocket event stream. It controls audits; it does not start them.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/argus-audit/argus/pkg/breaker"
	"github.com/argus-audit/argus/pkg/config"
	"github.com/argus-audit/argus/pkg/database"
	"github.com/argus-audit/argus/pkg/eventstream"
	"github.com/argus-audit/argus/pkg/graph"
)

// Server serves the control-plane routes. Build one with NewServer, then
// Start; Shutdown drains in-flight requests and drops event-stream clients.
type Server struct {
	cfg      config.ServerConfig
	ctrl     *graph.Controller
	hub      *eventstream.Hub
	db       *database.Client
	breakers *breaker.Group
	log      *slog.Logger
	stats    ConfigurationStats

	http *http.Server
}

// NewServer wires the control plane over a live graph controller and event
// hub. The hub may be nil; /ws then answers 503 and health reports degraded.
func NewServer(cfg config.ServerConfig, ctrl *graph.Controller, hub *eventstream.Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		ctrl: ctrl,
		hub:  hub,
		log:  log.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.requestLogger(), s.recovery(), securityHeaders())

	r.GET("/healthz", s.healthHandler)
	r.GET("/ws", s.wsHandler)

	v1 := r.Group("/api/v1")
	v1.POST("/agents/:id/stop", s.stopAgentHandler)
	v1.POST("/agents/stop-all", s.stopAllHandler)
	v1.POST("/agents/:id/message", s.sendMessageHandler)
	v1.GET("/graph", s.graphHandler)
	v1.GET("/findings", s.listFindingsHandler)
	v1.GET("/findings/summary", s.findingsSummaryHandler)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetConfigurationStats supplies the loaded-configuration counts reported by
// /healthz.
func (s *Server) SetConfigurationStats(stats ConfigurationStats) {
	s.stats = stats
}

// SetDatabase adds the persistence client to the /healthz report. Optional;
// an engine running without Postgres leaves it unset.
func (s *Server) SetDatabase(db *database.Client) {
	s.db = db
}

// SetBreakers adds circuit-breaker snapshots to the /healthz report.
// Optional.
func (s *Server) SetBreakers(g *breaker.Group) {
	s.breakers = g
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start begins serving and blocks until the listener fails or Shutdown is
// called. A clean shutdown returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.log.Info("control plane listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown closes the event hub first so blocked /ws handlers return, then
// drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}
