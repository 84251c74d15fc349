// Package server exposes the executor over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/nnexec/nnexec/internal/metrics"
	"github.com/nnexec/nnexec/pkg/executor"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	exec       *executor.Executor
	collector  *metrics.Collector
}

type Config struct {
	ListenAddr string
	Executor   *executor.Executor

	// Registry receives the server's metrics; defaults to a fresh registry.
	Registry *prometheus.Registry
}

func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{
		router:    router,
		exec:      cfg.Executor,
		collector: metrics.NewCollector(registry),
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	v1 := router.Group("/v1")
	{
		v1.GET("/model", s.handleModel)
		v1.POST("/execute", s.handleExecute)
	}

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context) error {
	log := klog.FromContext(ctx)
	log.Info("starting inference server", "listen", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set("request_id", requestID)
		start := time.Now()

		c.Next()

		log := klog.FromContext(c.Request.Context())
		log.Info("request",
			"id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
