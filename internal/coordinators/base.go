// Package coordinators wires the focuser engines into long running services
// connected to the message bus.
package coordinators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/pkg/api"
	"github.com/unklstewy/bigskies-focuser/pkg/healthcheck"
	"github.com/unklstewy/bigskies-focuser/pkg/mqtt"
)

// BaseCoordinator provides common functionality for all coordinators.
type BaseCoordinator struct {
	name          string
	bus           mqtt.Bus
	healthEngine  *healthcheck.Engine
	logger        *zap.Logger
	running       bool
	mu            sync.RWMutex
	startTime     time.Time
	shutdownFuncs []func(context.Context) error
}

// NewBaseCoordinator creates a new base coordinator instance. bus may be
// nil when the coordinator runs without a message bus.
func NewBaseCoordinator(name string, bus mqtt.Bus, logger *zap.Logger) *BaseCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("coordinator", name))

	return &BaseCoordinator{
		name:         name,
		bus:          bus,
		healthEngine: healthcheck.NewEngine(logger),
		logger:       logger,
	}
}

// Name returns the coordinator name.
func (bc *BaseCoordinator) Name() string {
	return bc.name
}

// IsRunning returns true if the coordinator is running.
func (bc *BaseCoordinator) IsRunning() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.running
}

func (bc *BaseCoordinator) setRunning(running bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.running = running
	if running {
		bc.startTime = time.Now()
	}
}

// Start connects the message bus and marks the coordinator running.
func (bc *BaseCoordinator) Start(ctx context.Context) error {
	if bc.IsRunning() {
		return fmt.Errorf("coordinator %s is already running", bc.name)
	}

	bc.logger.Info("Starting coordinator")

	if bc.bus != nil && !bc.bus.IsConnected() {
		if err := bc.bus.Connect(); err != nil {
			return fmt.Errorf("failed to connect MQTT: %w", err)
		}
	}

	bc.setRunning(true)
	bc.logger.Info("Coordinator started successfully")
	return nil
}

// Stop runs the shutdown functions in reverse registration order and
// disconnects the message bus.
func (bc *BaseCoordinator) Stop(ctx context.Context) error {
	if !bc.IsRunning() {
		return nil
	}

	bc.logger.Info("Stopping coordinator")

	bc.mu.Lock()
	funcs := bc.shutdownFuncs
	bc.shutdownFuncs = nil
	bc.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			bc.logger.Error("Shutdown function failed", zap.Error(err))
		}
	}

	if bc.bus != nil && bc.bus.IsConnected() {
		bc.bus.Disconnect()
	}

	bc.setRunning(false)
	bc.logger.Info("Coordinator stopped")
	return nil
}

// HealthCheck returns the coordinator's own health, folding in the latest
// results of the registered checkers.
func (bc *BaseCoordinator) HealthCheck(ctx context.Context) *healthcheck.Result {
	result := healthcheck.NewResult(bc.name, healthcheck.StatusHealthy, "Coordinator is healthy")

	mqttConnected := bc.bus != nil && bc.bus.IsConnected()
	running := bc.IsRunning()

	switch {
	case !running:
		result.Status = healthcheck.StatusUnhealthy
		result.Message = "Coordinator is not running"
	case bc.bus != nil && !mqttConnected:
		result.Status = healthcheck.StatusDegraded
		result.Message = "MQTT client not connected"
	}

	bc.mu.RLock()
	uptime := time.Duration(0)
	if running {
		uptime = time.Since(bc.startTime)
	}
	bc.mu.RUnlock()

	result.Details["uptime_seconds"] = uptime.Seconds()
	result.Details["running"] = running
	result.Details["mqtt_connected"] = mqttConnected
	return result
}

// RegisterShutdownFunc adds a function to be called during shutdown.
func (bc *BaseCoordinator) RegisterShutdownFunc(fn func(context.Context) error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.shutdownFuncs = append(bc.shutdownFuncs, fn)
}

// RegisterHealthCheck adds a health checker to the coordinator.
func (bc *BaseCoordinator) RegisterHealthCheck(checker healthcheck.Checker) {
	bc.healthEngine.Register(checker)
}

// HealthEngine returns the health check engine.
func (bc *BaseCoordinator) HealthEngine() *healthcheck.Engine {
	return bc.healthEngine
}

// Bus returns the message bus, or nil.
func (bc *BaseCoordinator) Bus() mqtt.Bus {
	return bc.bus
}

// Logger returns the coordinator logger.
func (bc *BaseCoordinator) Logger() *zap.Logger {
	return bc.logger
}

// source is the Source of messages sent by the coordinator.
func (bc *BaseCoordinator) source() string {
	return "coordinator:" + bc.name
}

// StartHealthPublishing publishes health to the coordinator health topic
// every interval until ctx is done. It returns at once without a bus.
func (bc *BaseCoordinator) StartHealthPublishing(ctx context.Context, interval time.Duration) {
	if bc.bus == nil {
		bc.logger.Debug("Health publishing disabled: no message bus")
		return
	}
	healthcheck.NewReporter(bc.healthEngine, bc.publishHealth, bc.logger).StartReporting(ctx, interval)
}

// publishHealth publishes the coordinator health, with the checker results
// attached under "components".
func (bc *BaseCoordinator) publishHealth(ctx context.Context, agg *healthcheck.AggregatedResult) error {
	if bc.bus == nil {
		return nil
	}

	health := bc.HealthCheck(ctx)
	if agg != nil && len(agg.Components) > 0 {
		health.Details["components"] = agg.Components
		if health.Status == healthcheck.StatusHealthy {
			health.Status = agg.OverallStatus
		}
	}

	msg, err := mqtt.NewMessage(mqtt.MessageTypeStatus, bc.source(), health)
	if err != nil {
		return fmt.Errorf("failed to create health message: %w", err)
	}

	topic := mqtt.CoordinatorHealthTopic(bc.name)
	if err := bc.bus.PublishJSON(topic, 1, false, msg); err != nil {
		return fmt.Errorf("failed to publish health to %s: %w", topic, err)
	}
	return nil
}

// CreateMQTTClient creates the message bus client from configuration.
func CreateMQTTClient(cfg config.MQTTConfig, logger *zap.Logger) (*mqtt.Client, error) {
	mc := mqtt.DefaultConfig(cfg.BrokerURL, cfg.ClientID)
	mc.Username = cfg.Username
	mc.Password = cfg.Password
	return mqtt.NewClient(mc, logger)
}

var _ api.Coordinator = (*BaseCoordinator)(nil)
