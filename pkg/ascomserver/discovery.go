package ascomserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// discoveryPoll bounds each read so the loop notices Stop.
const discoveryPoll = time.Second

// DiscoveryService answers Alpaca discovery broadcasts.
//
// A client broadcasts "alpacadiscovery1" to the discovery port and every
// server replies with {"AlpacaPort":N}.
type DiscoveryService struct {
	port    int
	apiPort int
	logger  *zap.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	stopCh chan struct{}
	done   chan struct{}
}

// NewDiscoveryService creates a discovery responder. Port 0 picks a free port.
func NewDiscoveryService(port, apiPort int, logger *zap.Logger) *DiscoveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryService{
		port:    port,
		apiPort: apiPort,
		logger:  logger.With(zap.String("component", "discovery")),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the UDP listener and serves in the background.
func (d *DiscoveryService) Start() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: d.port})
	if err != nil {
		return fmt.Errorf("failed to create UDP listener: %w", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.logger.Info("Discovery service started",
		zap.String("listen_address", conn.LocalAddr().String()),
		zap.Int("api_port", d.apiPort))

	go d.loop(conn)
	return nil
}

// Addr returns the bound UDP address, or nil before Start.
func (d *DiscoveryService) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Stop shuts the responder down and waits for the loop to exit.
func (d *DiscoveryService) Stop() {
	d.mu.Lock()
	started := d.conn != nil
	d.mu.Unlock()

	select {
	case <-d.stopCh:
		return
	default:
		close(d.stopCh)
	}
	if started {
		<-d.done
	}
	d.logger.Info("Discovery service stopped")
}

func (d *DiscoveryService) loop(conn *net.UDPConn) {
	defer close(d.done)
	defer func() { _ = conn.Close() }()

	reply, err := json.Marshal(DiscoveryResponse{AlpacaPort: d.apiPort})
	if err != nil {
		d.logger.Error("Failed to marshal discovery response", zap.Error(err))
		return
	}

	buf := make([]byte, 1024)
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(discoveryPoll))
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			d.logger.Warn("Error reading UDP packet", zap.Error(err))
			continue
		}

		if string(buf[:n]) != AlpacaDiscoveryMessage {
			d.logger.Debug("Ignoring non-discovery message", zap.String("from", remote.String()))
			continue
		}

		d.logger.Debug("Discovery request received", zap.String("from", remote.String()))
		if _, err := conn.WriteToUDP(reply, remote); err != nil {
			d.logger.Warn("Failed to send discovery response",
				zap.String("to", remote.String()),
				zap.Error(err))
		}
	}
}
