// Package system wires the service together and runs its servers until the
// context is cancelled.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/api/rest"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/api/rpc"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/api/websocket"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/auth"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/clock"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/interfaces"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/maintenance"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/metrics"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/notify"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/seed"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/service"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewMaintenanceService builds the maintenance service from configuration.
// publisher and collector may be nil, as in the CLI.
func NewMaintenanceService(cfg *config.Config, store storage.RecordStore, publisher events.Publisher, collector *metrics.Collector, logger *zap.Logger) (*service.Service, error) {
	clk, err := clock.NewSystem(cfg.Maintenance.Timezone)
	if err != nil {
		return nil, err
	}

	engine := maintenance.NewEngine(cfg.Maintenance.IntervalDays, cfg.Maintenance.MaxSearchDays)
	return service.New(store, engine, clk, publisher, collector, logger, service.Options{
		StoreTimeout:  cfg.Store.Timeout,
		CommitRetries: cfg.Maintenance.CommitRetries,
	}), nil
}

const defaultShutdownTimeout = 30 * time.Second

type LifecycleManager struct {
	config   *config.Config
	store    storage.Store
	bus      *events.Bus
	metrics  *metrics.Collector
	service  *service.Service
	auth     *auth.AuthService
	wsHub    *websocket.Hub
	notifier *notify.Notifier
	logger   *zap.Logger

	restServer *rest.Server
	grpcServer *rpc.Server

	stateMu      sync.RWMutex
	currentState SystemState
	startedAt    time.Time
}

// NewLifecycleManager wires every component on top of an open store. When
// MQTT is enabled the broker must be reachable.
func NewLifecycleManager(cfg *config.Config, store storage.Store, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		store:        store,
		bus:          events.NewBus(),
		logger:       logger,
		currentState: StateInitializing,
	}

	lm.metrics = metrics.NewCollector()
	lm.bus.OnDrop(func(e events.Event) {
		lm.metrics.EventDropped(string(e.Type))
	})

	svc, err := NewMaintenanceService(cfg, store, lm.bus, lm.metrics, logger)
	if err != nil {
		return nil, err
	}
	lm.service = svc

	if !cfg.Auth.IsProductionReady() {
		logger.Warn("JWT secret not configured, using development secret",
			zap.String("env", cfg.Auth.JWTSecretEnv))
	}
	lm.auth = auth.NewAuthService(store, cfg.Auth, nil, logger)
	lm.wsHub = websocket.NewHub(logger, lm.auth, lm.metrics)

	seeds, err := seed.NewValidator()
	if err != nil {
		return nil, err
	}

	if cfg.MQTT.Enabled {
		client, err := notify.NewClient(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		lm.notifier = notify.NewNotifier(client, cfg.MQTT.TopicPrefix, logger)
	}

	lm.restServer = rest.NewServer(cfg, rest.Deps{
		Service: svc,
		Auth:    lm.auth,
		Hub:     lm.wsHub,
		Metrics: lm.metrics,
		Seeds:   seeds,
		Health:  store,
		Status:  lm,
	}, logger)
	lm.grpcServer = rpc.NewServer(cfg, svc, lm.bus, lm.auth, logger)

	return lm, nil
}

// Service returns the maintenance service
func (lm *LifecycleManager) Service() *service.Service {
	return lm.service
}

// Run starts every server and blocks until ctx is cancelled or one of them
// fails, then shuts the rest down.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	lm.logger.Info("Starting OpenMaintenanceCore")

	g, gctx := errgroup.WithContext(ctx)

	hubFeed := lm.bus.Subscribe()
	g.Go(func() error {
		lm.wsHub.Run(gctx, hubFeed)
		return nil
	})

	if lm.notifier != nil {
		mqttFeed := lm.bus.Subscribe()
		g.Go(func() error {
			lm.notifier.Run(gctx, mqttFeed)
			return nil
		})
	}

	g.Go(lm.restServer.Start)
	g.Go(lm.grpcServer.Start)

	g.Go(func() error {
		<-gctx.Done()
		timeout := lm.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return lm.shutdown(shutdownCtx)
	})

	lm.stateMu.Lock()
	lm.startedAt = time.Now()
	lm.stateMu.Unlock()
	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("store", lm.config.Database.Driver),
		zap.Bool("mqtt", lm.notifier != nil))

	err := g.Wait()
	if err != nil {
		lm.setState(StateError)
	}
	lm.setState(StateStopped)
	return err
}

func (lm *LifecycleManager) shutdown(ctx context.Context) error {
	lm.logger.Info("Shutting down system")
	lm.setState(StateStopping)

	var g errgroup.Group
	g.Go(func() error {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("rest api shutdown failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return lm.grpcServer.Shutdown(ctx)
	})

	err := g.Wait()
	lm.bus.Close()

	if err != nil {
		lm.logger.Warn("Shutdown incomplete", zap.Error(err))
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Debug("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

// State returns the current lifecycle state
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, startedAt := lm.currentState, lm.startedAt
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		StartedAt:        startedAt,
		StoreDriver:      lm.config.Database.Driver,
		WebsocketClients: lm.wsHub.GetClientCount(),
		EventSubscribers: lm.bus.SubscriberCount(),
		MQTTEnabled:      lm.notifier != nil,
	}
	if !startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return status
}
