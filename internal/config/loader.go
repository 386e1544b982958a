package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// FOCUSER_FOCUSER_MODE or FOCUSER_ALPACA_SERVER_LISTEN_ADDRESS.
const EnvPrefix = "FOCUSER"

// Load reads the configuration. Values come, in increasing precedence,
// from the defaults, the YAML file at path (optional) and the environment.
// The result is validated.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers every key so environment overrides apply even when
// the key is absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("focuser.mode", d.Focuser.Mode)
	v.SetDefault("focuser.vendor", d.Focuser.Vendor)
	v.SetDefault("focuser.connect_timeout", d.Focuser.ConnectTimeout)
	v.SetDefault("focuser.retry_budget", d.Focuser.RetryBudget)
	v.SetDefault("focuser.retry_step", d.Focuser.RetryStep)
	v.SetDefault("focuser.step_min", d.Focuser.StepMin)
	v.SetDefault("focuser.step_max", d.Focuser.StepMax)
	v.SetDefault("focuser.probe_range", d.Focuser.ProbeRange)
	v.SetDefault("focuser.name", d.Focuser.Name)
	v.SetDefault("focuser.description", d.Focuser.Description)
	v.SetDefault("focuser.max_increment", d.Focuser.MaxIncrement)
	v.SetDefault("focuser.device_number", d.Focuser.DeviceNumber)

	v.SetDefault("transport.type", d.Transport.Type)
	v.SetDefault("transport.busy_codes", d.Transport.BusyCodes)
	v.SetDefault("transport.simulator.manufacturer", d.Transport.Simulator.Manufacturer)
	v.SetDefault("transport.simulator.model", d.Transport.Simulator.Model)
	v.SetDefault("transport.simulator.attach_delay", d.Transport.Simulator.AttachDelay)
	v.SetDefault("transport.simulator.drive_rate", d.Transport.Simulator.DriveRate)
	v.SetDefault("transport.serial.port", d.Transport.Serial.Port)
	v.SetDefault("transport.serial.baud_rate", d.Transport.Serial.BaudRate)
	v.SetDefault("transport.serial.response_timeout", d.Transport.Serial.ResponseTimeout)
	v.SetDefault("transport.serial.drive_timeout", d.Transport.Serial.DriveTimeout)

	a := d.Alpaca
	v.SetDefault("alpaca.server.listen_address", a.Server.ListenAddress)
	v.SetDefault("alpaca.server.discovery_port", a.Server.DiscoveryPort)
	v.SetDefault("alpaca.server.discovery_enabled", a.Server.DiscoveryEnabled)
	v.SetDefault("alpaca.server.server_name", a.Server.ServerName)
	v.SetDefault("alpaca.server.manufacturer", a.Server.Manufacturer)
	v.SetDefault("alpaca.server.manufacturer_version", a.Server.ManufacturerVersion)
	v.SetDefault("alpaca.server.location", a.Server.Location)
	v.SetDefault("alpaca.server.read_timeout", a.Server.ReadTimeout)
	v.SetDefault("alpaca.server.write_timeout", a.Server.WriteTimeout)
	v.SetDefault("alpaca.server.idle_timeout", a.Server.IdleTimeout)
	v.SetDefault("alpaca.server.debug", a.Server.Debug)
	v.SetDefault("alpaca.authentication.enabled", a.Authentication.Enabled)
	v.SetDefault("alpaca.authentication.username", a.Authentication.Username)
	v.SetDefault("alpaca.authentication.password_hash", a.Authentication.PasswordHash)
	v.SetDefault("alpaca.authentication.realm", a.Authentication.Realm)
	v.SetDefault("alpaca.cors.enabled", a.CORS.Enabled)
	v.SetDefault("alpaca.cors.allowed_origins", a.CORS.AllowedOrigins)
	v.SetDefault("alpaca.cors.allowed_methods", a.CORS.AllowedMethods)
	v.SetDefault("alpaca.cors.allowed_headers", a.CORS.AllowedHeaders)
	v.SetDefault("alpaca.cors.allow_credentials", a.CORS.AllowCredentials)
	v.SetDefault("alpaca.cors.max_age", a.CORS.MaxAge)
	v.SetDefault("alpaca.tls.enabled", a.TLS.Enabled)
	v.SetDefault("alpaca.tls.cert_file", a.TLS.CertFile)
	v.SetDefault("alpaca.tls.key_file", a.TLS.KeyFile)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker_url", d.MQTT.BrokerURL)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.status_interval", d.MQTT.StatusInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)
	v.SetDefault("logging.trace", d.Logging.Trace)

	v.SetDefault("health.interval", d.Health.Interval)
}
