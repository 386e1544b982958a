package ascomserver

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds the Alpaca server settings.
type Config struct {
	Server         ServerConfig `json:"server" mapstructure:"server"`
	Authentication AuthConfig   `json:"authentication" mapstructure:"authentication"`
	CORS           CORSConfig   `json:"cors" mapstructure:"cors"`
	TLS            TLSConfig    `json:"tls" mapstructure:"tls"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// ListenAddress is "host:port" or ":port".
	ListenAddress string `json:"listen_address" mapstructure:"listen_address"`

	// DiscoveryPort is the UDP port for Alpaca discovery. Standard port is 32227.
	DiscoveryPort int `json:"discovery_port" mapstructure:"discovery_port"`

	// DiscoveryEnabled turns the UDP responder on.
	DiscoveryEnabled bool `json:"discovery_enabled" mapstructure:"discovery_enabled"`

	ServerName          string `json:"server_name" mapstructure:"server_name"`
	Manufacturer        string `json:"manufacturer" mapstructure:"manufacturer"`
	ManufacturerVersion string `json:"manufacturer_version" mapstructure:"manufacturer_version"`
	Location            string `json:"location" mapstructure:"location"`

	ReadTimeout time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	// WriteTimeout must exceed the longest focus move, since moves are
	// answered only when the motor has stopped.
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`

	// Debug switches gin to debug mode.
	Debug bool `json:"debug" mapstructure:"debug"`
}

// AuthConfig contains HTTP Basic Authentication settings.
type AuthConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Username string `json:"username" mapstructure:"username"`

	// PasswordHash is a bcrypt hash of the password (see HashPassword).
	PasswordHash string `json:"password_hash" mapstructure:"password_hash"`

	// Realm is the authentication realm string shown in browser prompts.
	Realm string `json:"realm" mapstructure:"realm"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" mapstructure:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" mapstructure:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" mapstructure:"allow_credentials"`
	// MaxAge is how long (in seconds) browsers can cache preflight results.
	MaxAge int `json:"max_age" mapstructure:"max_age"`
}

// TLSConfig contains TLS/SSL configuration for HTTPS.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	CertFile string `json:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `json:"key_file" mapstructure:"key_file"`
}

// HashPassword returns the bcrypt hash to store in AuthConfig.PasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Validate checks the configuration for errors and sets defaults.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = fmt.Sprintf(":%d", DefaultAPIPort)
	}
	if c.Server.DiscoveryPort == 0 {
		c.Server.DiscoveryPort = DefaultDiscoveryPort
	}
	if c.Server.DiscoveryPort < 0 || c.Server.DiscoveryPort > 65535 {
		return fmt.Errorf("invalid discovery port: %d", c.Server.DiscoveryPort)
	}
	if c.Server.ServerName == "" {
		c.Server.ServerName = DefaultServerName
	}
	if c.Server.Manufacturer == "" {
		c.Server.Manufacturer = DefaultManufacturer
	}
	if c.Server.ManufacturerVersion == "" {
		c.Server.ManufacturerVersion = "1.0.0"
	}
	if c.Server.Location == "" {
		c.Server.Location = DefaultLocation
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Authentication.Realm == "" {
		c.Authentication.Realm = "ASCOM Alpaca Server"
	}
	if c.Authentication.Enabled {
		if c.Authentication.Username == "" {
			return fmt.Errorf("authentication enabled but username is empty")
		}
		if _, err := bcrypt.Cost([]byte(c.Authentication.PasswordHash)); err != nil {
			return fmt.Errorf("authentication password_hash is not a bcrypt hash: %w", err)
		}
	}

	if c.CORS.Enabled {
		if len(c.CORS.AllowedOrigins) == 0 {
			c.CORS.AllowedOrigins = []string{"*"}
		}
		if len(c.CORS.AllowedMethods) == 0 {
			c.CORS.AllowedMethods = []string{"GET", "PUT", "OPTIONS"}
		}
		if len(c.CORS.AllowedHeaders) == 0 {
			c.CORS.AllowedHeaders = []string{"*"}
		}
		if c.CORS.MaxAge == 0 {
			c.CORS.MaxAge = 3600
		}
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls enabled but cert_file or key_file is empty")
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:       fmt.Sprintf(":%d", DefaultAPIPort),
			DiscoveryPort:       DefaultDiscoveryPort,
			DiscoveryEnabled:    true,
			ServerName:          DefaultServerName,
			Manufacturer:        DefaultManufacturer,
			ManufacturerVersion: "1.0.0",
			Location:            DefaultLocation,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        60 * time.Second,
			IdleTimeout:         60 * time.Second,
		},
		Authentication: AuthConfig{
			Realm: "ASCOM Alpaca Server",
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         3600,
		},
	}
}
