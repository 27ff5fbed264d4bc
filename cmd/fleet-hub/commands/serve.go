package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/anatoly-dev/fleet-hub/internal/service"
	"github.com/anatoly-dev/fleet-hub/pkg/config"
	"github.com/anatoly-dev/fleet-hub/pkg/handlers"
	"github.com/anatoly-dev/fleet-hub/pkg/kafka"
	"github.com/anatoly-dev/fleet-hub/pkg/metrics"
	"github.com/anatoly-dev/fleet-hub/pkg/redis"
	"github.com/anatoly-dev/fleet-hub/pkg/store"
	"github.com/anatoly-dev/fleet-hub/pkg/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const storeConnectTimeout = 15 * time.Second

type Application struct {
	configPath     string
	cfg            *config.Config
	logger         *zap.Logger
	instanceID     string
	store          store.Store
	presence       *redis.PresenceDirectory
	wsManager      *websocket.Manager
	monitor        *websocket.Monitor
	kafkaConsumer  *kafka.Consumer
	metrics        *metrics.Metrics
	metricsHandler *metrics.MetricsHandler
	router         *service.Router
	commandService *service.CommandService
	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	apiHandler     *handlers.APIHandler
	server         *service.Server
}

func NewApplication(configPath string) *Application {
	return &Application{
		configPath: configPath,
		instanceID: uuid.New().String(),
	}
}

func (a *Application) Init() error {
	if err := a.initConfig(); err != nil {
		return err
	}

	if err := a.initLogger(); err != nil {
		return err
	}

	a.logger.Info("Starting fleet hub",
		zap.String("instanceID", a.instanceID),
		zap.String("version", "1.0.0"))

	if err := a.initStore(); err != nil {
		return err
	}

	if err := a.initRedis(); err != nil {
		return err
	}

	a.initWebsocket()
	a.initMetrics()

	if err := a.initKafka(); err != nil {
		return err
	}

	a.initServices()
	a.initHandlers()
	a.initServer()

	return nil
}

func (a *Application) initConfig() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *Application) initLogger() error {
	logger, err := config.NewLogger(&a.cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *Application) initStore() error {
	st, err := openStore(&a.cfg.Store, a.logger)
	if err != nil {
		return err
	}
	a.store = st
	return nil
}

func openStore(cfg *config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), storeConnectTimeout)
		defer cancel()

		st, err := store.NewPostgresStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
}

func (a *Application) initRedis() error {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("Redis presence directory disabled")
		return nil
	}

	presence, err := redis.NewPresenceDirectory(&a.cfg.Redis, a.logger, a.instanceID)
	if err != nil {
		return fmt.Errorf("failed to create Redis presence directory: %w", err)
	}
	a.presence = presence
	return nil
}

func (a *Application) initWebsocket() {
	a.wsManager = websocket.NewManager(websocket.OptionsFromConfig(a.cfg), a.logger)
	a.monitor = websocket.NewMonitor(a.wsManager, a.logger)
}

func (a *Application) initMetrics() {
	if !a.cfg.Metrics.Enabled {
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.metrics = metrics.NewMetrics(a.cfg.Metrics.Namespace, reg)
	a.metricsHandler = metrics.NewMetricsHandler(a.metrics, reg, a.logger)

	a.wsManager.SetMetrics(&a.metrics.WebSocket)
	if a.presence != nil {
		a.presence.SetMetrics(&a.metrics.Redis)
	}
}

func (a *Application) initKafka() error {
	if !a.cfg.Kafka.Enabled {
		a.logger.Info("Kafka command bus disabled")
		return nil
	}

	kafkaConsumer, err := kafka.NewConsumer(&a.cfg.Kafka, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	if a.metrics != nil {
		kafkaConsumer.SetMetrics(&a.metrics.Kafka)
	}
	a.kafkaConsumer = kafkaConsumer
	return nil
}

func (a *Application) initServices() {
	a.router = service.NewRouter(a.wsManager, a.store, a.cfg.Store.Timeout, a.instanceID, a.logger)
	if a.metrics != nil {
		a.router.SetMetrics(&a.metrics.Router)
	}
	if a.presence != nil {
		a.router.SetPresence(a.presence)
	}

	a.commandService = service.NewCommandService(a.kafkaConsumer, a.router, a.logger)
}

func (a *Application) initHandlers() {
	a.wsHandler = handlers.NewWebSocketHandler(a.wsManager, a.logger)
	a.healthHandler = handlers.NewHealthCheckHandler(a.wsManager.Registry(), a.logger)

	a.apiHandler = handlers.NewAPIHandler(a.router, a.store, a.cfg.Store.Timeout, a.logger)
	if a.presence != nil {
		a.apiHandler.SetPresence(a.presence)
	}
}

func (a *Application) initServer() {
	a.server = service.NewServer(
		a.wsHandler,
		a.healthHandler,
		a.apiHandler,
		a.monitor,
		a.commandService,
		a.logger,
		&a.cfg.Server,
	)
	if a.metricsHandler != nil {
		a.server.SetMetricsHandler(a.metricsHandler)
	}
}

func (a *Application) Run() error {
	return a.server.Start()
}

func (a *Application) Stop() {
	if a.presence != nil {
		a.presence.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fleet hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configPath)
			if err := app.Init(); err != nil {
				return err
			}
			defer app.Stop()
			return app.Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	return cmd
}
