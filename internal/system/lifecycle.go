package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/api/rest"
	"github.com/KevinKickass/OpenWardCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/interfaces"
	"github.com/KevinKickass/OpenWardCore/internal/notify"
	"github.com/KevinKickass/OpenWardCore/internal/provision"
	"github.com/KevinKickass/OpenWardCore/internal/streaming"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type LifecycleManager struct {
	config      *config.Config
	store       ward.Store
	engine      *ward.Engine
	dispatcher  *notify.Dispatcher
	hub         *websocket.Hub
	streamer    *streaming.EventStreamer
	authService *auth.AuthService
	loader      *provision.Loader
	logger      *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr
	stopHub    context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

func NewLifecycleManager(store ward.Store, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	return newLifecycleManager(store, cfg, clockwork.NewRealClock(), logger)
}

func newLifecycleManager(store ward.Store, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := provision.NewLoader(logger.Named("provision"))
	if err != nil {
		return nil, fmt.Errorf("failed to create layout loader: %w", err)
	}

	authService := auth.NewAuthService(cfg.Auth, logger.Named("auth"))
	engine := ward.NewEngine(store, cfg, clock, logger.Named("ward"))

	dispatcher := notify.NewDispatcher(cfg.Notify.BufferSize, logger.Named("notify"))
	hub := websocket.NewHub(logger.Named("websocket"), authService)
	streamer := streaming.NewEventStreamer()
	dispatcher.AddSink(hub)
	dispatcher.AddSink(streamer)

	// Observers go in before the engine starts so recovered turnovers are
	// published too.
	notify.Watch(dispatcher, engine.Beds, engine.Turnovers, engine.Queues, clock)

	lm := &LifecycleManager{
		config:       cfg,
		store:        store,
		engine:       engine,
		dispatcher:   dispatcher,
		hub:          hub,
		streamer:     streamer,
		authService:  authService,
		loader:       loader,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}
	hub.SetCensusProvider(lm)
	return lm, nil
}

// Start brings up notification sinks, recovers the engine, applies the
// configured ward layout and opens the REST and gRPC listeners.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenWardCore")

	lm.addExternalSinks(ctx)
	lm.dispatcher.Start()

	hubCtx, stopHub := context.WithCancel(context.Background())
	lm.stopHub = stopHub
	go lm.hub.Run(hubCtx)

	if err := lm.engine.Start(ctx); err != nil {
		lm.setError(fmt.Errorf("failed to start ward engine: %w", err))
		return err
	}

	if path := lm.config.Provision.LayoutPath; path != "" {
		if err := lm.applyLayoutFile(ctx, path); err != nil {
			lm.setError(err)
			return err
		}
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("auth_enabled", !lm.authService.Disabled()))

	return nil
}

// addExternalSinks connects the notification sinks enabled in config. A
// sink that cannot connect is skipped; bed moves never wait on it.
func (lm *LifecycleManager) addExternalSinks(ctx context.Context) {
	cfg := lm.config.Notify
	var sinks []notify.Sink

	if cfg.Redis.Enabled {
		if s, err := notify.NewRedisSink(ctx, cfg.Redis); err != nil {
			lm.logger.Warn("Redis sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Kafka.Enabled {
		if s, err := notify.NewKafkaSink(cfg.Kafka); err != nil {
			lm.logger.Warn("Kafka sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.MQTT.Enabled {
		if s, err := notify.NewMQTTSink(cfg.MQTT); err != nil {
			lm.logger.Warn("MQTT sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Webhook.Enabled {
		if s, err := notify.NewWebhookSink(cfg.Webhook); err != nil {
			lm.logger.Warn("Webhook sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}

	for _, s := range sinks {
		lm.dispatcher.AddSink(s)
		lm.logger.Info("Notification sink enabled", zap.String("sink", s.Name()))
	}
}

func (lm *LifecycleManager) applyLayoutFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		lm.logger.Warn("Ward layout file not found, skipping provisioning", zap.String("path", path))
		return nil
	}

	layout, err := lm.loader.LoadFile(path)
	if err != nil {
		return err
	}
	_, err = lm.loader.Apply(ctx, layout, lm.engine.Beds)
	return err
}

// ApplyLayout provisions beds from a layout while the system is running.
func (lm *LifecycleManager) ApplyLayout(ctx context.Context, layout *provision.Layout) (provision.Result, error) {
	if err := lm.setState(StateUpdating); err != nil {
		return provision.Result{}, err
	}

	res, err := lm.loader.Apply(ctx, layout, lm.engine.Beds)

	// Beds created before a failure stay provisioned; the engine keeps
	// running either way.
	if stateErr := lm.setState(StateRunning); stateErr != nil {
		lm.logger.Error("Failed to leave update state", zap.Error(stateErr))
	}
	return res, err
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state at shutdown", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. gRPC Server graceful stop (ends open event streams)
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		err = fmt.Errorf("shutdown timeout exceeded")
	}

	select {
	case err = <-errChan:
	default:
	}

	// 3. Disarm turnover timers; they are recovered on the next start.
	lm.engine.Stop()

	// 4. Flush pending notifications, then close live clients.
	lm.dispatcher.Stop()
	if lm.stopHub != nil {
		lm.stopHub()
	}

	if err == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return err
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(streaming.UnaryAuthInterceptor(lm.authService)),
		grpc.StreamInterceptor(streaming.StreamAuthInterceptor(lm.authService)),
	)

	streaming.RegisterWardServiceServer(lm.grpcServer,
		streaming.NewWardService(lm.engine, lm.streamer, lm.logger.Named("grpc")))
	lm.logger.Info("Ward gRPC service registered")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "WardService"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.hub, lm.authService, lm.loader)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.stateMu.Unlock()
		return err
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.stateMu.RLock()
	status := SystemStatus{
		State:     lm.currentState.String(),
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
	lm.stateMu.RUnlock()

	lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, status))
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:            lm.State().String(),
		Census:           lm.engine.Census(),
		ConnectedClients: lm.hub.GetClientCount(),
		DroppedEvents:    lm.dispatcher.Dropped(),
	}
}

// CensusSnapshot feeds freshly connected websocket clients.
func (lm *LifecycleManager) CensusSnapshot() any {
	return lm.engine.Census()
}

func (lm *LifecycleManager) Ping(ctx context.Context) error {
	return lm.store.Ping(ctx)
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Engine() *ward.Engine {
	return lm.engine
}
