package coordinators

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/internal/driver"
	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
	"github.com/unklstewy/bigskies-focuser/internal/engines/session"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver/handlers"
)

// Stack is the focuser component graph: transport, session manager, focus
// controller and ASCOM driver.
type Stack struct {
	Transport  camera.Transport
	Sessions   *session.Manager
	Controller *focus.Controller
	Driver     *driver.Focuser

	closer io.Closer
}

// NewTransport builds the camera transport selected by cfg. The returned
// closer is nil when the transport holds no OS resources.
func NewTransport(cfg *config.Config, logger *zap.Logger) (camera.Transport, io.Closer, error) {
	switch cfg.Transport.Type {
	case config.TransportSimulator:
		return camera.NewSimulator(cfg.SimulatorConfig(), logger), nil, nil
	case config.TransportSerial:
		bridge := camera.NewSerialBridge(cfg.SerialConfig(), camera.OpenSerialPort, logger)
		return bridge, bridge, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// NewStack builds the components from configuration.
func NewStack(cfg *config.Config, logger *zap.Logger) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport, closer, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewStackWithTransport(cfg, transport, closer, logger)
}

// NewStackWithTransport builds the components over an existing transport.
func NewStackWithTransport(cfg *config.Config, transport camera.Transport, closer io.Closer, logger *zap.Logger) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sessions := session.NewManager(cfg.SessionConfig(), transport, logger)
	controller, err := focus.NewController(cfg.FocusConfig(), sessions, logger)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to create focus controller: %w", err)
	}

	return &Stack{
		Transport:  transport,
		Sessions:   sessions,
		Controller: controller,
		Driver:     driver.New(cfg.DriverConfig(), controller, sessions, logger),
		closer:     closer,
	}, nil
}

// Close ends the session and releases the transport.
func (s *Stack) Close() error {
	s.Sessions.Close()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ handlers.Focuser = (*driver.Focuser)(nil)
