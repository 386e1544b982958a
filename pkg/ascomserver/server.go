package ascomserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrServerStarted is returned when a device is registered after the router
// was built.
var ErrServerStarted = errors.New("ascom server already started")

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

// NewServer creates an Alpaca server. Devices are added with RegisterDevice
// and the server is run with Start.
func NewServer(config *Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Server{
		config:  config,
		logger:  logger.With(zap.String("component", "ascom_server")),
		devices: make(map[string]Device),
		stopCh:  make(chan struct{}),
	}, nil
}

// DeviceUniqueID returns the stable unique ID of a device. It is derived
// from the device type, number and server name so it survives restarts.
func DeviceUniqueID(serverName, deviceType string, deviceNumber int) string {
	name := fmt.Sprintf("%s/%s", serverName, DeviceKey(deviceType, deviceNumber))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// RegisterDevice adds a device to the server.
func (s *Server) RegisterDevice(device Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.router != nil {
		return ErrServerStarted
	}
	key := DeviceKey(device.DeviceType(), device.DeviceNumber())
	if _, exists := s.devices[key]; exists {
		return fmt.Errorf("device %s already registered", key)
	}
	s.devices[key] = device
	s.order = append(s.order, key)

	s.logger.Info("Device registered",
		zap.String("device_type", device.DeviceType()),
		zap.Int("device_number", device.DeviceNumber()),
		zap.String("name", device.DeviceName()),
		zap.String("unique_id", device.UniqueID()))
	return nil
}

// ConfiguredDevices lists the registered devices in registration order.
func (s *Server) ConfiguredDevices() []ConfiguredDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConfiguredDevice, 0, len(s.order))
	for _, key := range s.order {
		d := s.devices[key]
		out = append(out, ConfiguredDevice{
			DeviceName:   d.DeviceName(),
			DeviceType:   d.DeviceType(),
			DeviceNumber: d.DeviceNumber(),
			UniqueID:     d.UniqueID(),
		})
	}
	return out
}

// Router returns the HTTP handler, building it on first use. No devices
// can be registered afterwards.
func (s *Server) Router() *gin.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		s.router = s.setupRouter()
	}
	return s.router
}

// Start runs the HTTP server and the discovery responder until ctx is done
// or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	router := s.Router()

	listener, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	apiPort := DefaultAPIPort
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		apiPort = addr.Port
	}

	if s.config.Server.DiscoveryEnabled {
		s.discovery = NewDiscoveryService(s.config.Server.DiscoveryPort, apiPort, s.logger)
		if err := s.discovery.Start(); err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to start discovery service: %w", err)
		}
		defer s.discovery.Stop()
	}

	httpServer := &http.Server{
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting",
			zap.String("address", listener.Addr().String()),
			zap.Bool("tls", s.config.TLS.Enabled))
		if s.config.TLS.Enabled {
			serverErrors <- httpServer.ServeTLS(listener, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			serverErrors <- httpServer.Serve(listener)
		}
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case <-s.stopCh:
		s.logger.Info("Server stop requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error during HTTP server shutdown", zap.Error(err))
	}
	<-serverErrors

	s.logger.Info("Server shutdown complete")
	return nil
}

// Stop signals Start to shut down. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) setupRouter() *gin.Engine {
	if s.config.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Error handler first so it sees panics from the rest of the chain.
	router.Use(ErrorHandlerMiddleware(s.logger))
	router.Use(LoggingMiddleware(s.logger))
	if s.config.CORS.Enabled {
		router.Use(CORSMiddleware(s.config.CORS))
	}
	router.Use(AuthMiddleware(s.config.Authentication))
	router.Use(TransactionMiddleware(&s.transactionCounter))

	NewManagementAPI(s).RegisterRoutes(router.Group(""))

	api := router.Group(fmt.Sprintf("/api/v%d", AlpacaAPIVersion))
	for _, key := range s.order {
		d := s.devices[key]
		d.RegisterRoutes(api.Group("/" + d.DeviceType() + "/" + strconv.Itoa(d.DeviceNumber())))
	}

	s.logger.Info("HTTP router configured",
		zap.Int("device_count", len(s.order)),
		zap.Bool("cors_enabled", s.config.CORS.Enabled),
		zap.Bool("auth_enabled", s.config.Authentication.Enabled),
		zap.Bool("tls_enabled", s.config.TLS.Enabled))

	return router
}
