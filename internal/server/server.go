package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/courier/internal/lifecycle"
	"github.com/tournevent/courier/internal/webhook"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Server is the HTTP server for the courier service.
type Server struct {
	port     int
	svc      *lifecycle.Service
	ingestor *webhook.Ingestor
	logger   *otelzap.Logger
	engine   *gin.Engine
}

// Config holds server configuration.
type Config struct {
	Port int

	// MetricsHandler serves /metrics. Defaults to the default Prometheus
	// registry.
	MetricsHandler http.Handler
}

// New creates a new server instance.
func New(cfg Config, svc *lifecycle.Service, ingestor *webhook.Ingestor, logger *otelzap.Logger) *Server {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &Server{
		port:     cfg.Port,
		svc:      svc,
		ingestor: ingestor,
		logger:   logger,
	}
	s.engine = s.routes(cfg.MetricsHandler)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics))
	r.POST("/webhooks/:provider", s.handleWebhook)

	v1 := r.Group("/v1")
	v1.POST("/rates", s.handleRates)
	v1.POST("/pickups", s.handleSchedulePickup)

	shipments := v1.Group("/shipments")
	shipments.POST("", s.handleCreateShipment)
	shipments.GET("/:id", s.handleGetShipment)
	shipments.GET("/:id/tracking", s.handleTrack)
	shipments.POST("/:id/status", s.handleApplyStatus)
	shipments.POST("/:id/sync", s.handleSync)
	shipments.POST("/:id/cancel", s.handleCancel)
	shipments.GET("/:id/label", s.handleLabel)

	cases := v1.Group("/ndr")
	cases.GET("", s.handleListCases)
	cases.GET("/:id", s.handleGetCase)
	cases.POST("/:id/assign", s.handleAssign)
	cases.POST("/:id/actions", s.handleLogContact)
	cases.POST("/:id/reattempt", s.handleScheduleReattempt)
	cases.POST("/:id/reattempt/start", s.handleStartReattempt)
	cases.POST("/:id/failed-attempt", s.handleFailedAttempt)
	cases.POST("/:id/escalate", s.handleEscalate)
	cases.POST("/:id/resolve", s.handleResolve)
	cases.POST("/:id/status", s.handleSetCaseStatus)

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Ctx(c.Request.Context()).Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
