// Package http exposes the transition engine and audit trail over a small JSON API.
// Handlers only translate requests into service calls and service errors into statuses.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/statecore/internal/application/service"
)

const shutdownGrace = 10 * time.Second

// Logger is the key/value logger the API writes request lines to
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports component health; ok=false turns the response into 503
type HealthFunc func(ctx context.Context) (ok bool, details any)

type ServerConfig struct {
	Host         string
	Port         int
	Mode         string // gin mode; empty means release
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MetricsPath  string // empty disables the metrics route
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		Mode:         gin.ReleaseMode,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Deps are the services the server exposes
type Deps struct {
	Transitions service.TransitionService
	Audit       service.AuditService
	Health      HealthFunc
	Metrics     http.Handler
	Logger      Logger
}

type Server struct {
	config ServerConfig
	router *gin.Engine
	srv    *http.Server
	logger Logger
}

func NewServer(config ServerConfig, deps Deps) *Server {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLog(logger), cors())

	h := NewHandlers(deps.Transitions, deps.Audit, deps.Health, logger)
	router.GET("/health", h.HealthCheck)
	if deps.Metrics != nil && config.MetricsPath != "" {
		router.GET(config.MetricsPath, gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/machines", h.ListMachines)
	v1.GET("/machines/:type", h.GetMachine)
	v1.POST("/entities/:type", h.CreateEntity)
	v1.GET("/entities/:type/:id", h.GetEntity)
	v1.POST("/entities/:type/:id/transitions", h.ExecuteTransition)
	v1.GET("/entities/:type/:id/audit", h.GetAuditTrail)
	v1.GET("/audit/:type", h.ListTransitions)
	v1.GET("/audit/:type/stats", h.TransitionStats)

	return &Server{
		config: config,
		router: router,
		logger: logger,
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "address", s.srv.Addr)

	serveErr := make(chan error, 1)
	go func() {
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return <-serveErr
}

// Router exposes the gin engine for in-process requests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Address() string {
	return s.srv.Addr
}

func requestLog(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// cors allows browser-based admin tools; preflight requests end here.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
