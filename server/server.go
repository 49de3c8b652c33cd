package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/meshprobe/component"
	"github.com/kbukum/meshprobe/logger"
	"github.com/kbukum/meshprobe/server/endpoint"
	"github.com/kbukum/meshprobe/server/middleware"
)

const shutdownTimeout = 5 * time.Second

// Server is the debug HTTP surface backed by Gin.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     Config
	log        *logger.Logger

	mu    sync.RWMutex
	bound string
}

// New creates a Server with the standard middleware chain wrapped around
// the Gin engine: recovery, request id, CORS and request logging.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if log.Zerolog().GetLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log = log.WithComponent("server")

	engine := gin.New()
	handler := middleware.Chain(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.CORS(&cfg.CORS),
		middleware.RequestLogger(log),
	)(engine)
	if cfg.H2C {
		handler = h2c.NewHandler(handler, &http2.Server{IdleTimeout: cfg.IdleTimeout})
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		engine: engine,
		config: cfg,
		log:    log,
	}
}

// GinEngine returns the underlying Gin engine for route registration.
func (s *Server) GinEngine() *gin.Engine {
	return s.engine
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// RegisterEndpoints mounts /alive, /health, /readiness and /liveness.
func (s *Server) RegisterEndpoints(serviceName string, resolver endpoint.AliveResolver, checker endpoint.HealthChecker) {
	s.engine.GET("/alive", endpoint.Alive(resolver, s.log))
	s.engine.GET("/health", endpoint.Health(serviceName, checker))
	s.engine.GET("/readiness", endpoint.Readiness(serviceName, checker))
	s.engine.GET("/liveness", endpoint.Liveness(serviceName))
}

// Start binds the port and serves in a goroutine. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.httpServer.Addr, err)
	}

	s.mu.Lock()
	s.bound = listener.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.ErrorFields("serve", err))
		}
	}()

	s.log.Info("HTTP server started", map[string]interface{}{"addr": s.Addr()})
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.mu.Lock()
	s.bound = ""
	s.mu.Unlock()
	s.log.Info("HTTP server shut down")
	return nil
}

// Addr returns the bound address while serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bound != "" {
		return s.bound
	}
	return s.httpServer.Addr
}

func (s *Server) serving() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound != ""
}

var _ component.Component = (*Server)(nil)

// Name registers the server as a lifecycle component.
func (s *Server) Name() string { return "http-server" }

// Health is healthy while the listener is bound.
func (s *Server) Health(context.Context) component.Health {
	h := component.Health{Name: s.Name(), Status: component.StatusHealthy}
	if !s.serving() {
		h.Status = component.StatusUnhealthy
		h.Message = "not serving"
	}
	return h
}
