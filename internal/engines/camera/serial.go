package camera

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Bridge link errors. Both are fatal from the retry loop's point of view.
var (
	ErrBridgeTimeout = errors.New("bridge response timeout")
	ErrBridgeClosed  = errors.New("bridge link closed")
)

// PortOpener opens the byte stream to a bridge.
type PortOpener func(name string, baudRate int) (io.ReadWriteCloser, error)

// OpenSerialPort opens a USB-serial port in 8N1 mode.
func OpenSerialPort(name string, baudRate int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// ListSerialPorts returns the serial ports present on the host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// SerialConfig configures a SerialBridge.
type SerialConfig struct {
	Port            string
	BaudRate        int
	ResponseTimeout time.Duration
	// DriveTimeout bounds a drive command, which returns only once the
	// motor has stopped.
	DriveTimeout time.Duration
	BusyCodes    BusyCodes
}

// DefaultSerialConfig returns the bridge defaults.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:            "/dev/ttyUSB0",
		BaudRate:        115200,
		ResponseTimeout: 2 * time.Second,
		DriveTimeout:    30 * time.Second,
	}
}

// SerialBridge is a Transport that talks to a microcontroller or helper
// host running the vendor SDK, over a newline-delimited text protocol:
//
//	-> OPEN                       <- OK
//	-> RELEASE <id>               <- OK
//	-> LV <id> 0|1                <- OK
//	-> LV? <id>                   <- OK 0|1
//	-> DRIVE <id> CLOSEST|INFINITY <steps>   <- OK
//	-> RANGE? <id>                <- OK <min> <max>
//	<- ERR <code> [message]       (any command)
//	<- ATTACH <id>|<manufacturer>|<model>   (unsolicited)
//	<- REMOVE <id>|<manufacturer>|<model>   (unsolicited)
type SerialBridge struct {
	cfg    SerialConfig
	opener PortOpener
	busy   BusyCodes
	logger *zap.Logger

	// cmdMu keeps one command in flight.
	cmdMu sync.Mutex

	mu        sync.Mutex
	port      io.ReadWriteCloser
	resp      chan string
	listeners []Listener
	attached  map[string]DeviceInfo
}

// NewSerialBridge creates a bridge transport. A nil opener uses
// OpenSerialPort.
func NewSerialBridge(cfg SerialConfig, opener PortOpener, logger *zap.Logger) *SerialBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = OpenSerialPort
	}
	defaults := DefaultSerialConfig()
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = defaults.BaudRate
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaults.ResponseTimeout
	}
	if cfg.DriveTimeout <= 0 {
		cfg.DriveTimeout = defaults.DriveTimeout
	}
	busy := cfg.BusyCodes
	if busy == nil {
		busy = DefaultBusyCodes
	}
	return &SerialBridge{
		cfg:      cfg,
		opener:   opener,
		busy:     busy,
		logger:   logger.With(zap.String("component", "serial_bridge"), zap.String("port", cfg.Port)),
		attached: make(map[string]DeviceInfo),
	}
}

// link returns the open port, opening it on first use.
func (b *SerialBridge) link() (io.ReadWriteCloser, chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port != nil {
		return b.port, b.resp, nil
	}

	port, err := b.opener(b.cfg.Port, b.cfg.BaudRate)
	if err != nil {
		return nil, nil, err
	}
	b.port = port
	b.resp = make(chan string, 4)
	go b.readLoop(port, b.resp)

	b.logger.Info("Bridge link opened", zap.Int("baud_rate", b.cfg.BaudRate))
	return b.port, b.resp, nil
}

func (b *SerialBridge) readLoop(port io.ReadWriteCloser, resp chan string) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		b.handleLine(line, resp)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("Bridge read failed", zap.Error(err))
	}
	b.linkLost(port, resp)
}

func (b *SerialBridge) handleLine(line string, resp chan string) {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "ATTACH", "REMOVE":
		dev, err := parseDevice(rest)
		if err != nil {
			b.logger.Warn("Ignoring malformed device event", zap.String("line", line), zap.Error(err))
			return
		}
		if verb == "ATTACH" {
			b.notifyAttached(dev)
		} else {
			b.notifyRemoved(dev)
		}
	case "OK", "ERR":
		select {
		case resp <- line:
		default:
			b.logger.Warn("Dropping unexpected bridge response", zap.String("line", line))
		}
	default:
		b.logger.Debug("Ignoring bridge output", zap.String("line", line))
	}
}

// linkLost reports every attached device as removed and closes resp so a
// pending command fails fast.
func (b *SerialBridge) linkLost(port io.ReadWriteCloser, resp chan string) {
	b.mu.Lock()
	if b.port != port {
		b.mu.Unlock()
		return
	}
	b.port = nil
	b.resp = nil
	gone := make([]DeviceInfo, 0, len(b.attached))
	for _, dev := range b.attached {
		gone = append(gone, dev)
	}
	b.attached = make(map[string]DeviceInfo)
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	close(resp)
	b.logger.Warn("Bridge link lost", zap.Int("attached_devices", len(gone)))
	for _, dev := range gone {
		for _, l := range listeners {
			l.DeviceRemoved(dev)
		}
	}
}

func (b *SerialBridge) notifyAttached(dev DeviceInfo) {
	b.mu.Lock()
	b.attached[dev.ID] = dev
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	b.logger.Info("Device attached", zap.Stringer("device", dev))
	for _, l := range listeners {
		l.DeviceAttached(dev)
	}
}

func (b *SerialBridge) notifyRemoved(dev DeviceInfo) {
	b.mu.Lock()
	delete(b.attached, dev.ID)
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	b.logger.Info("Device removed", zap.Stringer("device", dev))
	for _, l := range listeners {
		l.DeviceRemoved(dev)
	}
}

func parseDevice(payload string) (DeviceInfo, error) {
	parts := strings.SplitN(payload, "|", 3)
	if len(parts) != 3 || parts[0] == "" {
		return DeviceInfo{}, fmt.Errorf("expected id|manufacturer|model, got %q", payload)
	}
	return DeviceInfo{ID: parts[0], Manufacturer: parts[1], Model: parts[2]}, nil
}

// command sends one line and waits for the matching OK or ERR.
func (b *SerialBridge) command(op string, timeout time.Duration, line string) (string, error) {
	b.cmdMu.Lock()
	defer b.cmdMu.Unlock()

	port, resp, err := b.link()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	// Discard responses that arrived after an earlier command timed out.
	for drained := false; !drained; {
		select {
		case _, ok := <-resp:
			if !ok {
				return "", fmt.Errorf("%s: %w", op, ErrBridgeClosed)
			}
		default:
			drained = true
		}
	}

	b.logger.Debug("Bridge command", zap.String("line", line))
	if _, err := io.WriteString(port, line+"\n"); err != nil {
		return "", fmt.Errorf("%s: failed to write to bridge: %w", op, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-resp:
		if !ok {
			return "", fmt.Errorf("%s: %w", op, ErrBridgeClosed)
		}
		return parseResponse(op, reply)
	case <-timer.C:
		return "", fmt.Errorf("%s: %w after %v", op, ErrBridgeTimeout, timeout)
	}
}

func parseResponse(op, line string) (string, error) {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "OK":
		return rest, nil
	case "ERR":
		codeText, msg, _ := strings.Cut(rest, " ")
		code, err := strconv.ParseInt(codeText, 0, 32)
		if err != nil {
			return "", fmt.Errorf("%s: malformed bridge error %q", op, line)
		}
		return "", &SDKError{Op: op, Code: int(code), Message: msg}
	default:
		return "", fmt.Errorf("%s: unexpected bridge response %q", op, line)
	}
}

// Open implements Transport.
func (b *SerialBridge) Open() error {
	_, err := b.command(OpOpen, b.cfg.ResponseTimeout, "OPEN")
	return err
}

// Subscribe implements Transport.
func (b *SerialBridge) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

// Unsubscribe implements Transport.
func (b *SerialBridge) Unsubscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

// Release implements Transport.
func (b *SerialBridge) Release(dev DeviceInfo) error {
	_, err := b.command(OpRelease, b.cfg.ResponseTimeout, "RELEASE "+dev.ID)
	return err
}

// SetLiveView implements Transport.
func (b *SerialBridge) SetLiveView(dev DeviceInfo, enabled bool) error {
	flag := "0"
	if enabled {
		flag = "1"
	}
	_, err := b.command(OpSetLive, b.cfg.ResponseTimeout, fmt.Sprintf("LV %s %s", dev.ID, flag))
	return err
}

// LiveView implements Transport.
func (b *SerialBridge) LiveView(dev DeviceInfo) (bool, error) {
	payload, err := b.command(OpGetLive, b.cfg.ResponseTimeout, "LV? "+dev.ID)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(payload) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%s: unexpected live view state %q", OpGetLive, payload)
	}
}

// Drive implements Transport.
func (b *SerialBridge) Drive(dev DeviceInfo, dir Direction, steps int) error {
	line := fmt.Sprintf("DRIVE %s %s %d", dev.ID, strings.ToUpper(dir.String()), steps)
	_, err := b.command(OpDrive, b.cfg.DriveTimeout, line)
	return err
}

// StepRange implements Transport.
func (b *SerialBridge) StepRange(dev DeviceInfo) (StepRange, error) {
	payload, err := b.command(OpStepRange, b.cfg.ResponseTimeout, "RANGE? "+dev.ID)
	if err != nil {
		return StepRange{}, err
	}
	var r StepRange
	if _, err := fmt.Sscanf(payload, "%d %d", &r.Min, &r.Max); err != nil {
		return StepRange{}, fmt.Errorf("%s: malformed range %q: %w", OpStepRange, payload, err)
	}
	return r, nil
}

// IsBusy implements Transport.
func (b *SerialBridge) IsBusy(err error) bool {
	return b.busy.Match(err)
}

// Close shuts the bridge link.
func (b *SerialBridge) Close() error {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("%s: failed to close bridge port: %w", OpBridgeLink, err)
	}
	return nil
}

var _ Transport = (*SerialBridge)(nil)
