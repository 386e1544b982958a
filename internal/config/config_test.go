package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "focuser.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TransportSimulator, cfg.Transport.Type)
	assert.Equal(t, 5*time.Second, cfg.Focuser.RetryBudget)
	assert.Equal(t, 50*time.Millisecond, cfg.Focuser.RetryStep)
	assert.Equal(t, camera.DefaultStepRange(), cfg.StepRange())
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Focuser, cfg.Focuser)
	assert.Equal(t, ":11111", cfg.Alpaca.Server.ListenAddress)
	assert.Equal(t, focus.ModeScoped, cfg.FocusConfig().Mode)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
focuser:
  mode: persistent
  vendor: Canon
  connect_timeout: 2s
  step_min: -1000
  step_max: 1000
transport:
  type: serial
  busy_codes: [0x2019]
  serial:
    port: /dev/ttyACM0
    baud_rate: 57600
alpaca:
  server:
    listen_address: "127.0.0.1:8080"
    discovery_enabled: false
mqtt:
  enabled: true
  broker_url: tcp://broker:1883
logging:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, focus.ModePersistent, cfg.FocusConfig().Mode)
	assert.Equal(t, "Canon", cfg.SessionConfig().Vendor)
	assert.Equal(t, 2*time.Second, cfg.SessionConfig().ConnectTimeout)
	assert.Equal(t, camera.StepRange{Min: -1000, Max: 1000}, cfg.FocusConfig().Range)

	serial := cfg.SerialConfig()
	assert.Equal(t, "/dev/ttyACM0", serial.Port)
	assert.Equal(t, 57600, serial.BaudRate)
	assert.True(t, serial.BusyCodes.Match(&camera.SDKError{Code: 0x2019}))
	assert.False(t, serial.BusyCodes.Match(&camera.SDKError{Code: camera.CodeErrorBusy}))

	assert.Equal(t, "127.0.0.1:8080", cfg.Alpaca.Server.ListenAddress)
	assert.False(t, cfg.Alpaca.Server.DiscoveryEnabled)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, 5*time.Second, cfg.MQTT.StatusInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FOCUSER_FOCUSER_MODE", "persistent")
	t.Setenv("FOCUSER_FOCUSER_RETRY_BUDGET", "2s")
	t.Setenv("FOCUSER_ALPACA_SERVER_LISTEN_ADDRESS", ":9999")
	t.Setenv("FOCUSER_LOGGING_TRACE", "true")

	path := writeConfig(t, "focuser:\n  mode: scoped\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "persistent", cfg.Focuser.Mode)
	assert.Equal(t, 2*time.Second, cfg.Focuser.RetryBudget)
	assert.Equal(t, ":9999", cfg.Alpaca.Server.ListenAddress)
	assert.True(t, cfg.Logging.Trace)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "focuser:\n  mode: sometimes\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "focuser: [not, a, map\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Focuser.Mode = "burst" }},
		{"bad range", func(c *Config) { c.Focuser.StepMin = 10 }},
		{"zero connect timeout", func(c *Config) { c.Focuser.ConnectTimeout = 0 }},
		{"zero retry step", func(c *Config) { c.Focuser.RetryStep = 0 }},
		{"negative device", func(c *Config) { c.Focuser.DeviceNumber = -1 }},
		{"unknown transport", func(c *Config) { c.Transport.Type = "usb" }},
		{"serial without port", func(c *Config) {
			c.Transport.Type = TransportSerial
			c.Transport.Serial.Port = ""
		}},
		{"serial bad baud", func(c *Config) {
			c.Transport.Type = TransportSerial
			c.Transport.Serial.BaudRate = 0
		}},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.BrokerURL = ""
		}},
		{"alpaca auth without user", func(c *Config) { c.Alpaca.Authentication.Enabled = true }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSimulatorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Simulator.Manufacturer = "Canon Inc."
	cfg.Transport.Simulator.DriveRate = 500

	sim := cfg.SimulatorConfig()
	assert.Equal(t, "Canon Inc.", sim.Device.Manufacturer)
	assert.Equal(t, 500, sim.DriveRate)
	assert.True(t, sim.AutoAttach)
	assert.Equal(t, cfg.StepRange(), sim.Range)
}

func TestLoggingBuild(t *testing.T) {
	logger, err := LoggingConfig{Level: "warn", Format: "console"}.Build()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = LoggingConfig{Level: "error", Format: "json", Trace: true}.Build()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = LoggingConfig{Level: "chatty"}.Build()
	assert.Error(t, err)
}
