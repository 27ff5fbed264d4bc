package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/handlers"
	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Server struct {
	server         *http.Server
	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	apiHandler     *handlers.APIHandler
	metricsHandler *metrics.MetricsHandler
	monitor        *websocket.Monitor
	commandService *CommandService
	logger         *zap.Logger
	cfg            *config.ServerConfig

	cancelBackground context.CancelFunc
}

func NewServer(
	wsHandler *handlers.WebSocketHandler,
	healthHandler *handlers.HealthCheckHandler,
	apiHandler *handlers.APIHandler,
	monitor *websocket.Monitor,
	commandService *CommandService,
	logger *zap.Logger,
	cfg *config.ServerConfig,
) *Server {
	return &Server{
		wsHandler:      wsHandler,
		healthHandler:  healthHandler,
		apiHandler:     apiHandler,
		monitor:        monitor,
		commandService: commandService,
		logger:         logger,
		cfg:            cfg,
	}
}

// SetMetricsHandler enables /metrics and per-route request metrics.
func (s *Server) SetMetricsHandler(h *metrics.MetricsHandler) {
	s.metricsHandler = h
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	if s.metricsHandler != nil {
		r.Use(s.metricsHandler.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metricsHandler.Handler())
	}

	r.Get("/ws", s.wsHandler.HandleConnection)
	r.Get("/health", s.healthHandler.HandleHealthCheck)
	s.apiHandler.Routes(r)

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	if err := s.commandService.Start(); err != nil {
		return fmt.Errorf("failed to start command service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	go s.monitor.Run(ctx)
	if s.metricsHandler != nil {
		go s.metricsHandler.CollectSystemMetrics(ctx)
	}

	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	s.logger.Info("Received shutdown signal")

	shutdownTimeout := 30 * time.Second
	if s.cfg.ShutdownTimeout > 0 {
		shutdownTimeout = s.cfg.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down services", zap.Duration("timeout", shutdownTimeout))

	return s.Shutdown(ctx)
}

// Shutdown stops intake first, then closes every socket so that devices are
// marked offline before the store goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	s.commandService.Stop()

	if s.cancelBackground != nil {
		s.cancelBackground()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down HTTP server", zap.Error(err))
		}
	}

	if err := s.wsHandler.CloseConnections(ctx); err != nil {
		return fmt.Errorf("failed to close WebSocket connections: %w", err)
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}
