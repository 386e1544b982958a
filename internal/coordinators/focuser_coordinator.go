package coordinators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
	"github.com/unklstewy/bigskies-focuser/internal/engines/session"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver/handlers"
	"github.com/unklstewy/bigskies-focuser/pkg/mqtt"
)

// Commands accepted on the focuser command topic.
const (
	CommandMove       = "move"
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandProbeRange = "probe_range"
	CommandStatus     = "status"
)

// ErrNoCamera is returned by the connect command when no matching camera
// attached within the connect timeout.
var ErrNoCamera = errors.New("no camera detected")

// FocuserCoordinator runs the focuser stack, serves it over Alpaca and
// bridges it to the message bus.
type FocuserCoordinator struct {
	*BaseCoordinator
	cfg    *config.Config
	stack  *Stack
	server *ascomserver.Server

	mu           sync.Mutex
	cancelRun    context.CancelFunc
	cancelEvents func()
	wg           sync.WaitGroup
}

// NewFocuserCoordinator builds the stack from cfg. bus may be nil.
func NewFocuserCoordinator(cfg *config.Config, bus mqtt.Bus, logger *zap.Logger) (*FocuserCoordinator, error) {
	stack, err := NewStack(cfg, logger)
	if err != nil {
		return nil, err
	}
	c, err := NewFocuserCoordinatorWithStack(cfg, stack, bus, logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	return c, nil
}

// NewFocuserCoordinatorWithStack creates a coordinator over an existing stack.
func NewFocuserCoordinatorWithStack(cfg *config.Config, stack *Stack, bus mqtt.Bus, logger *zap.Logger) (*FocuserCoordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	server, err := ascomserver.NewServer(&cfg.Alpaca, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create alpaca server: %w", err)
	}

	number := cfg.Focuser.DeviceNumber
	uniqueID := ascomserver.DeviceUniqueID(cfg.Alpaca.Server.ServerName, handlers.DeviceTypeFocuser, number)
	if err := server.RegisterDevice(handlers.NewFocuserHandler(number, uniqueID, stack.Driver, logger)); err != nil {
		return nil, fmt.Errorf("failed to register focuser: %w", err)
	}

	c := &FocuserCoordinator{
		BaseCoordinator: NewBaseCoordinator(mqtt.CoordinatorFocuser, bus, logger),
		cfg:             cfg,
		stack:           stack,
		server:          server,
	}
	c.RegisterHealthCheck(newSessionChecker(stack, cfg.Transport.Type))
	return c, nil
}

// Stack returns the component stack.
func (c *FocuserCoordinator) Stack() *Stack {
	return c.stack
}

// Server returns the Alpaca server.
func (c *FocuserCoordinator) Server() *ascomserver.Server {
	return c.server
}

// Start connects the bus, subscribes to commands, starts the Alpaca server
// and the periodic status and health publishers.
func (c *FocuserCoordinator) Start(ctx context.Context) error {
	if err := c.BaseCoordinator.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancelEvents := c.stack.Sessions.Subscribe(c.publishEvent)

	c.mu.Lock()
	c.cancelRun = cancel
	c.cancelEvents = cancelEvents
	c.mu.Unlock()

	c.RegisterShutdownFunc(c.shutdown)

	if bus := c.Bus(); bus != nil {
		topic := mqtt.CoordinatorCommandTopic(c.Name())
		if err := bus.Subscribe(topic, 1, c.handleCommand); err != nil {
			_ = c.Stop(ctx)
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.RegisterShutdownFunc(func(context.Context) error {
			return bus.Unsubscribe(topic)
		})

		c.goRun(func() { c.publishStatusLoop(runCtx, c.cfg.MQTT.StatusInterval) })
		c.goRun(func() { c.StartHealthPublishing(runCtx, c.cfg.Health.Interval) })
	}

	c.goRun(func() {
		if err := c.server.Start(runCtx); err != nil {
			c.logger.Error("Alpaca server failed", zap.Error(err))
		}
	})

	if c.cfg.Focuser.ProbeRange {
		c.goRun(func() {
			if err := c.stack.Controller.ProbeStepRange(); err != nil {
				c.logger.Warn("Step range probe failed, keeping configured range", zap.Error(err))
			}
		})
	}

	c.logger.Info("Focuser coordinator started",
		zap.String("mode", string(c.stack.Controller.Mode())),
		zap.String("transport", c.cfg.Transport.Type),
		zap.String("alpaca", c.cfg.Alpaca.Server.ListenAddress))
	return nil
}

func (c *FocuserCoordinator) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// shutdown stops the background work, then ends the camera session.
func (c *FocuserCoordinator) shutdown(context.Context) error {
	c.mu.Lock()
	cancel, cancelEvents := c.cancelRun, c.cancelEvents
	c.cancelRun, c.cancelEvents = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.server.Stop()
	c.wg.Wait()
	if cancelEvents != nil {
		cancelEvents()
	}
	return c.stack.Close()
}

// handleCommand decodes a command envelope and answers on the response topic.
func (c *FocuserCoordinator) handleCommand(topic string, payload []byte) error {
	msg, cmd, err := decodeCommand(payload)
	if err != nil {
		c.logger.Warn("Invalid command", zap.String("topic", topic), zap.Error(err))
		c.respond("", mqtt.ResponseMessage{Success: false, Error: err.Error()})
		return nil
	}

	c.logger.Info("Command received", zap.String("command", cmd.Command), zap.String("id", msg.ID))

	data, err := c.execute(cmd)
	if err != nil {
		c.logger.Warn("Command failed", zap.String("command", cmd.Command), zap.Error(err))
		c.respond(msg.ID, mqtt.ResponseMessage{Success: false, Error: err.Error()})
	} else {
		c.respond(msg.ID, mqtt.ResponseMessage{Success: true, Data: data})
	}

	c.publishStatus()
	return nil
}

// decodeCommand accepts an envelope carrying a CommandMessage or a bare
// CommandMessage.
func decodeCommand(payload []byte) (*mqtt.Message, mqtt.CommandMessage, error) {
	var cmd mqtt.CommandMessage

	msg, err := mqtt.ParseMessage(payload)
	if err != nil {
		return nil, cmd, fmt.Errorf("invalid command payload: %w", err)
	}
	if len(msg.Payload) > 0 {
		if err := msg.UnmarshalPayload(&cmd); err != nil {
			return nil, cmd, fmt.Errorf("invalid command payload: %w", err)
		}
	} else if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, cmd, fmt.Errorf("invalid command payload: %w", err)
	}
	if cmd.Command == "" {
		return nil, cmd, errors.New("command is required")
	}
	return msg, cmd, nil
}

func (c *FocuserCoordinator) execute(cmd mqtt.CommandMessage) (interface{}, error) {
	ctrl := c.stack.Controller

	switch cmd.Command {
	case CommandMove:
		pos, err := intArg(cmd.Args, "position")
		if err != nil {
			return nil, err
		}
		if err := ctrl.MoveTo(pos); err != nil {
			return nil, err
		}
		return ctrl.Status(), nil

	case CommandConnect:
		if err := c.stack.Sessions.ConnectBlocking(); err != nil {
			return nil, err
		}
		if !c.stack.Sessions.Connected() {
			return nil, ErrNoCamera
		}
		return ctrl.Status(), nil

	case CommandDisconnect:
		c.stack.Sessions.Disconnect()
		return ctrl.Status(), nil

	case CommandProbeRange:
		if err := ctrl.ProbeStepRange(); err != nil {
			return nil, err
		}
		return ctrl.StepRange(), nil

	case CommandStatus:
		return ctrl.Status(), nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Command)
	}
}

func intArg(args map[string]interface{}, name string) (int, error) {
	raw, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("argument %q is required", name)
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("argument %q must be an integer", name)
	}
	return int(f), nil
}

func (c *FocuserCoordinator) respond(correlationID string, resp mqtt.ResponseMessage) {
	bus := c.Bus()
	if bus == nil {
		return
	}
	msg, err := mqtt.NewResponse(c.source(), correlationID, resp)
	if err != nil {
		c.logger.Error("Failed to create response", zap.Error(err))
		return
	}
	topic := mqtt.CoordinatorResponseTopic(c.Name())
	if err := bus.PublishJSON(topic, 1, false, msg); err != nil {
		c.logger.Error("Failed to publish response", zap.String("topic", topic), zap.Error(err))
	}
}

// publishEvent forwards session events to the event topics.
func (c *FocuserCoordinator) publishEvent(ev session.Event) {
	bus := c.Bus()
	if bus == nil {
		return
	}

	data := map[string]interface{}{
		"device_id":    ev.Device.ID,
		"manufacturer": ev.Device.Manufacturer,
		"model":        ev.Device.Model,
		"time":         ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Reason != "" {
		data["reason"] = ev.Reason
	}

	msg, err := mqtt.NewMessage(mqtt.MessageTypeEvent, c.source(), mqtt.EventMessage{
		Event: ev.Kind.String(),
		Data:  data,
	})
	if err != nil {
		c.logger.Error("Failed to create event message", zap.Error(err))
		return
	}

	topic := mqtt.CoordinatorEventTopic(c.Name(), ev.Kind.String())
	if err := bus.PublishJSON(topic, 1, false, msg); err != nil {
		c.logger.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// publishStatus publishes the controller status, retained so late
// subscribers see the last position.
func (c *FocuserCoordinator) publishStatus() {
	bus := c.Bus()
	if bus == nil {
		return
	}

	msg, err := mqtt.NewMessage(mqtt.MessageTypeStatus, c.source(), c.stack.Controller.Status())
	if err != nil {
		c.logger.Error("Failed to create status message", zap.Error(err))
		return
	}

	topic := mqtt.CoordinatorStatusTopic(c.Name())
	if err := bus.PublishJSON(topic, 1, true, msg); err != nil {
		c.logger.Warn("Failed to publish status", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *FocuserCoordinator) publishStatusLoop(ctx context.Context, interval time.Duration) {
	c.publishStatus()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStatus()
		}
	}
}

// StatusSnapshot returns the controller status.
func (c *FocuserCoordinator) StatusSnapshot() focus.Status {
	return c.stack.Controller.Status()
}
