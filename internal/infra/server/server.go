// Package server owns the HTTP listener: route table, middleware order, and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/controller"
	"github.com/rendis/docgen-engine/internal/adapters/primary/http/middleware"
	"github.com/rendis/docgen-engine/internal/infra/config"
)

// Controllers groups the handlers the router mounts.
type Controllers struct {
	Generate *controller.GenerateController
	Worker   *controller.WorkerController
	Health   *controller.HealthController
}

// NewRouter builds the gin engine. Health and metrics stay open; generation
// and worker control sit behind token verification.
func NewRouter(cfg *config.ServerConfig, env string, verifier *middleware.Verifier, ctrls Controllers) *gin.Engine {
	if env != config.EnvDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Correlation())

	r.GET("/healthz", ctrls.Health.Live)
	r.GET("/readyz", ctrls.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := verifier.Middleware()
	r.POST("/generate", auth, middleware.BodyLimit(int64(cfg.BodyLimitBytes)), ctrls.Generate.Generate)

	worker := r.Group("/worker", auth)
	worker.GET("/status", ctrls.Worker.Status)
	worker.GET("/stats", ctrls.Worker.Stats)

	return r
}

// Server wraps the net/http server with the configured shutdown grace.
type Server struct {
	srv   *http.Server
	grace time.Duration
}

func New(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		grace: cfg.ShutdownGrace(),
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
