// Package api wires the gin engine for the gateway: logging, recovery and CORS
// middleware, the gateway envelope routes, the health check and the metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GenGateway/internal/api/handlers/gateway"
	"github.com/router-for-me/GenGateway/internal/api/middleware"
	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/logging"
	"github.com/router-for-me/GenGateway/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const readHeaderTimeout = 10 * time.Second

// Server owns the gin engine and the underlying HTTP server.
type Server struct {
	engine  *gin.Engine
	server  *http.Server
	handler *gateway.Handler
	metrics *metrics.Collector
}

// NewServer builds the engine and registers every route. collector may be nil, in which
// case /metrics is not served.
func NewServer(cfg *config.Config, handler *gateway.Handler, collector *metrics.Collector) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.CORS())

	s := &Server{
		engine:  engine,
		handler: handler,
		metrics: collector,
	}
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) setupRoutes(cfg *config.Config) {
	s.engine.POST("/", s.handler.Handle)
	s.engine.POST("/v1/gateway", s.handler.Handle)
	s.engine.GET("/health", s.handler.Health)

	if cfg.Metrics.Enabled && s.metrics != nil {
		metricsHandler := s.metrics.Handler()
		s.engine.GET("/metrics", func(c *gin.Context) {
			logging.SkipGinRequestLogging(c)
			metricsHandler.ServeHTTP(c.Writer, c.Request)
		})
	}
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start serves until Stop is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	log.Infof("gateway listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: failed to start server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping gateway server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: failed to shut down server: %w", err)
	}
	return nil
}
