// Package config holds the focuser service configuration and loads it from
// a YAML file and FOCUSER_ environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unklstewy/bigskies-focuser/internal/driver"
	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
	"github.com/unklstewy/bigskies-focuser/internal/engines/session"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
	"github.com/unklstewy/bigskies-focuser/pkg/retry"
)

// Transport types.
const (
	TransportSimulator = "sim"
	TransportSerial    = "serial"
)

// Config is the complete service configuration.
type Config struct {
	Focuser   FocuserConfig      `mapstructure:"focuser"`
	Transport TransportConfig    `mapstructure:"transport"`
	Alpaca    ascomserver.Config `mapstructure:"alpaca"`
	MQTT      MQTTConfig         `mapstructure:"mqtt"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Health    HealthConfig       `mapstructure:"health"`
}

// FocuserConfig configures the session manager, the focus controller and
// the ASCOM driver.
type FocuserConfig struct {
	// Mode is "scoped" (connect per move) or "persistent".
	Mode           string        `mapstructure:"mode"`
	Vendor         string        `mapstructure:"vendor"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryBudget    time.Duration `mapstructure:"retry_budget"`
	RetryStep      time.Duration `mapstructure:"retry_step"`
	StepMin        int           `mapstructure:"step_min"`
	StepMax        int           `mapstructure:"step_max"`

	// ProbeRange reads the step range from the camera at startup.
	ProbeRange bool `mapstructure:"probe_range"`

	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	MaxIncrement int    `mapstructure:"max_increment"`
	DeviceNumber int    `mapstructure:"device_number"`
}

// TransportConfig selects and configures the camera transport.
type TransportConfig struct {
	Type string `mapstructure:"type"`
	// BusyCodes overrides the SDK result codes treated as busy.
	BusyCodes []int           `mapstructure:"busy_codes"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Serial    SerialConfig    `mapstructure:"serial"`
}

// SimulatorConfig configures the in-process camera.
type SimulatorConfig struct {
	Manufacturer string        `mapstructure:"manufacturer"`
	Model        string        `mapstructure:"model"`
	AttachDelay  time.Duration `mapstructure:"attach_delay"`
	DriveRate    int           `mapstructure:"drive_rate"`
}

// SerialConfig configures the USB-serial SDK bridge.
type SerialConfig struct {
	Port            string        `mapstructure:"port"`
	BaudRate        int           `mapstructure:"baud_rate"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	DriveTimeout    time.Duration `mapstructure:"drive_timeout"`
}

// MQTTConfig configures the message bus connection.
type MQTTConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	// StatusInterval is how often focuser status is published.
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
	// Trace forces debug level, which includes every retry attempt.
	Trace bool `mapstructure:"trace"`
}

// HealthConfig configures periodic health publishing.
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultConfig returns the service defaults: a simulated camera in scoped
// mode, Alpaca on 11111 and MQTT disabled.
func DefaultConfig() *Config {
	sim := camera.DefaultSimulatorConfig()
	serial := camera.DefaultSerialConfig()
	sessions := session.DefaultConfig()
	drv := driver.DefaultConfig()
	steps := camera.DefaultStepRange()

	return &Config{
		Focuser: FocuserConfig{
			Mode:           string(focus.ModeScoped),
			Vendor:         sessions.Vendor,
			ConnectTimeout: sessions.ConnectTimeout,
			RetryBudget:    retry.DefaultBudget,
			RetryStep:      retry.DefaultStep,
			StepMin:        steps.Min,
			StepMax:        steps.Max,
			Name:           drv.Name,
			Description:    drv.Description,
			MaxIncrement:   drv.MaxIncrement,
		},
		Transport: TransportConfig{
			Type: TransportSimulator,
			Simulator: SimulatorConfig{
				Manufacturer: sim.Device.Manufacturer,
				Model:        sim.Device.Model,
				AttachDelay:  sim.AttachDelay,
				DriveRate:    sim.DriveRate,
			},
			Serial: SerialConfig{
				Port:            serial.Port,
				BaudRate:        serial.BaudRate,
				ResponseTimeout: serial.ResponseTimeout,
				DriveTimeout:    serial.DriveTimeout,
			},
		},
		Alpaca: *ascomserver.DefaultConfig(),
		MQTT: MQTTConfig{
			BrokerURL:      "tcp://localhost:1883",
			ClientID:       "focuser-coordinator",
			StatusInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := focus.ParseMode(c.Focuser.Mode); err != nil {
		return fmt.Errorf("focuser: %w", err)
	}
	if err := c.StepRange().Validate(); err != nil {
		return fmt.Errorf("focuser: %w", err)
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("focuser: %w", err)
	}
	if c.Focuser.RetryBudget <= 0 || c.Focuser.RetryStep <= 0 {
		return fmt.Errorf("focuser: retry_budget and retry_step must be positive")
	}
	if c.Focuser.DeviceNumber < 0 {
		return fmt.Errorf("focuser: device_number must not be negative")
	}

	switch c.Transport.Type {
	case TransportSimulator:
	case TransportSerial:
		if c.Transport.Serial.Port == "" {
			return fmt.Errorf("transport: serial port is required")
		}
		if c.Transport.Serial.BaudRate <= 0 {
			return fmt.Errorf("transport: invalid baud rate %d", c.Transport.Serial.BaudRate)
		}
	default:
		return fmt.Errorf("transport: unknown type %q", c.Transport.Type)
	}

	if err := c.Alpaca.Validate(); err != nil {
		return fmt.Errorf("alpaca: %w", err)
	}

	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("mqtt: broker_url is required")
		}
		if c.MQTT.StatusInterval <= 0 {
			return fmt.Errorf("mqtt: status_interval must be positive")
		}
	}

	if _, err := c.Logging.level(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// StepRange returns the configured motor step range.
func (c *Config) StepRange() camera.StepRange {
	return camera.StepRange{Min: c.Focuser.StepMin, Max: c.Focuser.StepMax}
}

// SessionConfig returns the session manager configuration.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Vendor:         c.Focuser.Vendor,
		ConnectTimeout: c.Focuser.ConnectTimeout,
	}
}

// FocusConfig returns the focus controller configuration.
func (c *Config) FocusConfig() focus.Config {
	mode, _ := focus.ParseMode(c.Focuser.Mode)
	return focus.Config{
		Mode:        mode,
		Range:       c.StepRange(),
		RetryBudget: c.Focuser.RetryBudget,
		RetryStep:   c.Focuser.RetryStep,
	}
}

// DriverConfig returns the ASCOM driver configuration.
func (c *Config) DriverConfig() driver.Config {
	return driver.Config{
		Name:         c.Focuser.Name,
		Description:  c.Focuser.Description,
		MaxIncrement: c.Focuser.MaxIncrement,
	}
}

// BusyCodes returns the configured busy codes, or the defaults.
func (c *Config) BusyCodes() camera.BusyCodes {
	if len(c.Transport.BusyCodes) == 0 {
		return camera.DefaultBusyCodes
	}
	return camera.NewBusyCodes(c.Transport.BusyCodes...)
}

// SimulatorConfig returns the simulator configuration.
func (c *Config) SimulatorConfig() camera.SimulatorConfig {
	sim := camera.DefaultSimulatorConfig()
	sim.Device.Manufacturer = c.Transport.Simulator.Manufacturer
	sim.Device.Model = c.Transport.Simulator.Model
	sim.AttachDelay = c.Transport.Simulator.AttachDelay
	sim.DriveRate = c.Transport.Simulator.DriveRate
	sim.Range = c.StepRange()
	sim.BusyCodes = c.BusyCodes()
	return sim
}

// SerialConfig returns the serial bridge configuration.
func (c *Config) SerialConfig() camera.SerialConfig {
	return camera.SerialConfig{
		Port:            c.Transport.Serial.Port,
		BaudRate:        c.Transport.Serial.BaudRate,
		ResponseTimeout: c.Transport.Serial.ResponseTimeout,
		DriveTimeout:    c.Transport.Serial.DriveTimeout,
		BusyCodes:       c.BusyCodes(),
	}
}

func (l LoggingConfig) level() (zapcore.Level, error) {
	if l.Trace {
		return zapcore.DebugLevel, nil
	}
	if l.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(l.Level))
}

// Build creates the process logger.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if len(l.OutputPaths) > 0 {
		zc.OutputPaths = l.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
