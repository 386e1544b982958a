// Package driver presents the focus controller with ASCOM IFocuserV3
// semantics: an absolute focuser without temperature compensation, halt,
// or step size reporting.
package driver

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
)

const (
	// InterfaceVersion is the IFocuser version implemented.
	InterfaceVersion = 3

	DefaultName         = "DSLR Focuser"
	DefaultDescription  = "Camera lens focus motor driven through the vendor SDK"
	DefaultMaxIncrement = 10000

	driverInfo    = "BigSkies DSLR focuser driver"
	driverVersion = "1.0.0"

	// ActionProbeStepRange reads the step range from the camera.
	ActionProbeStepRange = "probesteprange"
)

// Controller is the focus controller surface used by the driver.
type Controller interface {
	MoveTo(target int) error
	Position() int
	MaxStep() int
	IsMoving() bool
	Mode() focus.Mode
	ProbeStepRange() error
}

// Sessions is the session manager surface used by the driver.
type Sessions interface {
	Connected() bool
	ConnectBlocking() error
	Disconnect()
}

// Config configures the driver.
type Config struct {
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	MaxIncrement int    `mapstructure:"max_increment"`
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		Name:         DefaultName,
		Description:  DefaultDescription,
		MaxIncrement: DefaultMaxIncrement,
	}
}

// Focuser implements the ASCOM focuser members.
//
// In scoped mode the ASCOM connection is only a flag: each move connects to
// the camera and disconnects afterwards. In persistent mode Connected
// controls the camera session directly.
type Focuser struct {
	cfg      Config
	ctrl     Controller
	sessions Sessions
	logger   *zap.Logger

	mu        sync.Mutex
	connected bool
}

// New creates a focuser driver.
func New(cfg Config, ctrl Controller, sessions Sessions, logger *zap.Logger) *Focuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Description == "" {
		cfg.Description = defaults.Description
	}
	if cfg.MaxIncrement <= 0 {
		cfg.MaxIncrement = defaults.MaxIncrement
	}
	return &Focuser{
		cfg:      cfg,
		ctrl:     ctrl,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "focuser_driver")),
	}
}

func (f *Focuser) persistent() bool {
	return f.ctrl.Mode() == focus.ModePersistent
}

// Connected reports the ASCOM connection state.
func (f *Focuser) Connected() bool {
	if f.persistent() {
		return f.sessions.Connected()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected connects or disconnects.
func (f *Focuser) SetConnected(on bool) error {
	f.logger.Info("Setting connected", zap.Bool("connected", on), zap.String("mode", string(f.ctrl.Mode())))

	if !f.persistent() {
		f.mu.Lock()
		f.connected = on
		f.mu.Unlock()
		return nil
	}

	if !on {
		f.sessions.Disconnect()
		return nil
	}
	if err := f.sessions.ConnectBlocking(); err != nil {
		return translate(err)
	}
	if !f.sessions.Connected() {
		return noCamera()
	}
	return nil
}

// Name returns the device name.
func (f *Focuser) Name() string { return f.cfg.Name }

// Description returns the device description.
func (f *Focuser) Description() string { return f.cfg.Description }

// DriverInfo returns the driver description.
func (f *Focuser) DriverInfo() string { return driverInfo }

// DriverVersion returns the driver version.
func (f *Focuser) DriverVersion() string { return driverVersion }

// InterfaceVersion returns the IFocuser version.
func (f *Focuser) InterfaceVersion() int { return InterfaceVersion }

// SupportedActions lists the custom actions.
func (f *Focuser) SupportedActions() []string {
	return []string{ActionProbeStepRange}
}

// Action runs a custom action.
func (f *Focuser) Action(name, _ string) (string, error) {
	switch strings.ToLower(name) {
	case ActionProbeStepRange:
		if err := f.ctrl.ProbeStepRange(); err != nil {
			return "", translate(err)
		}
		return "", nil
	default:
		return "", actionNotImplemented(name)
	}
}

// Absolute is always true: the position is emulated.
func (f *Focuser) Absolute() bool { return true }

// IsMoving reports whether the motor is being driven.
func (f *Focuser) IsMoving() bool { return f.ctrl.IsMoving() }

// MaxIncrement returns the largest single move advertised to clients.
func (f *Focuser) MaxIncrement() int { return f.cfg.MaxIncrement }

// MaxStep returns the highest position.
func (f *Focuser) MaxStep() int { return f.ctrl.MaxStep() }

// Position returns the emulated position.
func (f *Focuser) Position() (int, error) {
	if !f.Connected() {
		return 0, notConnected()
	}
	return f.ctrl.Position(), nil
}

// StepSize is not available from the camera.
func (f *Focuser) StepSize() (float64, error) {
	return 0, notImplemented("StepSize")
}

// TempComp is always false.
func (f *Focuser) TempComp() bool { return false }

// SetTempComp accepts only false.
func (f *Focuser) SetTempComp(on bool) error {
	if on {
		return notImplemented("TempComp")
	}
	return nil
}

// TempCompAvailable is always false.
func (f *Focuser) TempCompAvailable() bool { return false }

// Temperature is not available from the camera.
func (f *Focuser) Temperature() (float64, error) {
	return 0, notImplemented("Temperature")
}

// Halt is not supported: drives run to completion.
func (f *Focuser) Halt() error {
	return notImplemented("Halt")
}

// Move moves to an absolute position and returns when the motor stopped.
func (f *Focuser) Move(position int) error {
	if !f.Connected() {
		return notConnected()
	}
	if maxStep := f.ctrl.MaxStep(); position < 0 || position > maxStep {
		return invalidValue("position %d outside [0, %d]", position, maxStep)
	}

	f.logger.Info("Move requested", zap.Int("position", position))
	if err := f.ctrl.MoveTo(position); err != nil {
		f.logger.Warn("Move failed", zap.Int("position", position), zap.Error(err))
		return translate(err)
	}
	return nil
}
