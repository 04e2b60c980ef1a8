// Package control serves the optional HTTP control endpoint of a running
// bridge: health, Prometheus metrics, ad hoc script evaluation over HTTP
// or a websocket, and rebuild requests.
package control

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptbridge/internal/config"
	"github.com/GriffinCanCode/scriptbridge/internal/engine"
	"github.com/GriffinCanCode/scriptbridge/internal/monitoring"
)

// Engine is the part of the engine manager the control server drives.
type Engine interface {
	Execute(ctx context.Context, src string) (engine.Result, error)
	ScheduleReapply() bool
	Current() string
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	engine  Engine
	cfg     config.ControlConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics
	srv     *http.Server
}

// New creates a control server. It does not listen until Run.
func New(cfg config.ControlConfig, eng Engine, metrics *monitoring.Metrics, logger *zap.Logger, development bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		engine:  eng,
		cfg:     cfg,
		logger:  logger.Named("control"),
		metrics: metrics,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(monitoring.Middleware(metrics))
	if len(cfg.AllowOrigins) > 0 {
		s.router.Use(cors.New(corsConfig(cfg.AllowOrigins)))
	}
	if cfg.RequestsPerSecond > 0 {
		s.router.Use(RateLimit(RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}))
	}

	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	s.router.POST("/execute", s.execute)
	s.router.POST("/reapply", s.reapply)
	if cfg.REPL {
		s.router.GET("/repl", s.repl)
	}
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Content-Length", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting control server", zap.String("addr", s.cfg.Address))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down control server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
