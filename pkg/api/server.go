// Package api exposes the query and memory endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mehdiaksoy/mateai/pkg/agent"
	"github.com/mehdiaksoy/mateai/pkg/config"
	"github.com/mehdiaksoy/mateai/pkg/knowledge"
	"github.com/mehdiaksoy/mateai/pkg/retrieval"
)

// AgentService is the slice of the agent the API needs.
type AgentService interface {
	Query(ctx context.Context, query string, opts agent.QueryOptions) (*agent.QueryResult, error)
}

// ReadinessCheck probes one dependency for /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.ServerConfig

	agent     AgentService
	retriever *retrieval.Service
	chunks    knowledge.Store
	readiness []ReadinessCheck
}

// NewServer assembles the router. registry may be nil to skip /metrics.
func NewServer(
	cfg *config.ServerConfig,
	agentSvc AgentService,
	retriever *retrieval.Service,
	chunks knowledge.Store,
	registry *prometheus.Registry,
	readiness ...ReadinessCheck,
) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:    engine,
		cfg:       cfg,
		agent:     agentSvc,
		retriever: retriever,
		chunks:    chunks,
		readiness: readiness,
	}
	s.setupRoutes(registry)
	return s
}

// Handler returns the underlying HTTP handler (tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "port", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.engine.GET("/health", s.healthHandler)
	s.engine.GET("/health/live", s.livenessHandler)
	s.engine.GET("/health/ready", s.readinessHandler)
	if registry != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/agent/query", s.agentQueryHandler)
	v1.POST("/memory/search", s.memorySearchHandler)
	v1.GET("/memory/stats", s.memoryStatsHandler)
	v1.GET("/memory/recent", s.memoryRecentHandler)
}

// requestLogger logs one line per request in the shared slog format.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
