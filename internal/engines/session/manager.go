// Package session owns the connection to the one camera the focuser drives.
//
// A Manager subscribes to a camera.Transport for attach and removal
// callbacks, accepts the first attached device whose manufacturer matches
// the configured vendor, and holds it until Disconnect, removal, or Close.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
)

// ErrClosed is returned by connect calls after Close.
var ErrClosed = errors.New("session manager closed")

// Disconnect reasons carried by EventDisconnected.
const (
	ReasonRequested = "requested"
	ReasonTimeout   = "hardware detection timeout"
	ReasonRemoved   = "device removed"
	ReasonOpenError = "transport open failed"
)

// Config configures a Manager.
type Config struct {
	// Vendor is matched case-insensitively against the device manufacturer.
	Vendor string `mapstructure:"vendor"`
	// ConnectTimeout bounds how long an attempt waits for an attach.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns the session defaults.
func DefaultConfig() Config {
	return Config{
		Vendor:         "Nikon",
		ConnectTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %v", c.ConnectTimeout)
	}
	return nil
}

// Session is the state of a held device.
type Session struct {
	Device      camera.DeviceInfo
	LiveView    bool
	ConnectedAt time.Time
}

// Manager is the device session state machine.
type Manager struct {
	cfg       Config
	transport camera.Transport
	logger    *zap.Logger
	listener  *listener
	events    *dispatcher

	mu      sync.Mutex
	session *Session
	pending bool
	// attempt increments per connect attempt so stale timers do nothing.
	attempt uint64
	timer   *time.Timer
	ready   chan struct{}
	closed  bool
}

// listener adapts transport callbacks onto the manager.
type listener struct {
	m *Manager
}

func (l *listener) DeviceAttached(dev camera.DeviceInfo) { l.m.handleAttach(dev) }
func (l *listener) DeviceRemoved(dev camera.DeviceInfo)  { l.m.handleRemove(dev) }

// NewManager creates a session manager over transport.
func NewManager(cfg Config, transport camera.Transport, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	logger = logger.With(zap.String("component", "session_manager"))
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		events:    newDispatcher(logger),
	}
	m.listener = &listener{m: m}
	return m
}

// Transport returns the underlying transport.
func (m *Manager) Transport() camera.Transport {
	return m.transport
}

// Connected reports whether a session is held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Pending reports whether a connect attempt is waiting for an attach.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Device returns the held device.
func (m *Manager) Device() (camera.DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return camera.DeviceInfo{}, camera.ErrDeviceDisconnected
	}
	return m.session.Device, nil
}

// Session returns a copy of the held session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// LiveView reports the live view flag of the held session.
func (m *Manager) LiveView() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && m.session.LiveView
}

// RecordLiveView stores the live view state after a successful switch.
func (m *Manager) RecordLiveView(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.LiveView = on
	}
}

// Subscribe registers fn for session events. Events are delivered in order
// on a dispatcher goroutine. fn must not call Close.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	return m.events.subscribe(fn)
}

// OnConnected registers fn for EventConnected.
func (m *Manager) OnConnected(fn func()) (cancel func()) {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventConnected {
			fn()
		}
	})
}

// OnDisconnected registers fn for EventDisconnected.
func (m *Manager) OnDisconnected(fn func()) (cancel func()) {
	return m.Subscribe(func(ev Event) {
		if ev.Kind == EventDisconnected {
			fn()
		}
	})
}

// beginLocked starts a connect attempt. Callers hold m.mu.
func (m *Manager) beginLocked(armTimer bool) uint64 {
	m.attempt++
	gen := m.attempt
	m.pending = true
	m.ready = make(chan struct{})
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if armTimer {
		m.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
			m.expire(gen, ReasonTimeout)
		})
	}
	return gen
}

// resubscribe drops and re-adds the listener so it is registered once.
func (m *Manager) resubscribe() {
	m.transport.Unsubscribe(m.listener)
	m.transport.Subscribe(m.listener)
}

// Connect starts an asynchronous attach attempt and returns immediately.
// If no matching device attaches within the connect timeout the attempt is
// cleaned up as if Disconnect had been called.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session != nil || m.pending {
		m.mu.Unlock()
		return nil
	}
	gen := m.beginLocked(true)
	m.mu.Unlock()

	m.logger.Info("Connecting to camera",
		zap.String("vendor", m.cfg.Vendor),
		zap.Duration("timeout", m.cfg.ConnectTimeout))
	m.resubscribe()

	go func() {
		if err := m.transport.Open(); err != nil {
			m.logger.Error("Failed to open camera transport", zap.Error(err))
			m.expire(gen, ReasonOpenError)
		}
	}()
	return nil
}

// ConnectBlocking attempts to connect and waits up to the connect timeout
// for a matching device. A timeout is not an error: callers check
// Connected afterwards. A transport open failure is returned as a
// *camera.FatalError.
func (m *Manager) ConnectBlocking() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.session != nil {
		m.mu.Unlock()
		return nil
	}
	joined := m.pending
	var gen uint64
	if joined {
		gen = m.attempt
	} else {
		gen = m.beginLocked(false)
	}
	ready := m.ready
	m.mu.Unlock()

	openErr := make(chan error, 1)
	if !joined {
		m.logger.Info("Connecting to camera (blocking)",
			zap.String("vendor", m.cfg.Vendor),
			zap.Duration("timeout", m.cfg.ConnectTimeout))
		m.resubscribe()
		go func() { openErr <- m.transport.Open() }()
	}

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ready:
			return nil
		case err := <-openErr:
			if err == nil {
				openErr = nil
				continue
			}
			m.logger.Error("Failed to open camera transport", zap.Error(err))
			m.expire(gen, ReasonOpenError)
			return &camera.FatalError{Op: camera.OpOpen, Err: err}
		case <-timer.C:
			m.logger.Warn("No camera detected before timeout",
				zap.Duration("timeout", m.cfg.ConnectTimeout))
			m.expire(gen, ReasonTimeout)
			return nil
		}
	}
}

// expire ends attempt gen if it is still pending.
func (m *Manager) expire(gen uint64, reason string) {
	m.mu.Lock()
	if m.closed || m.attempt != gen || !m.pending {
		m.mu.Unlock()
		return
	}
	held, changed := m.takeLocked(reason, true)
	m.mu.Unlock()

	m.teardown(held, changed, reason)
}

// Disconnect releases the held device and clears local state. Transport
// errors are logged and swallowed. Calling it with no session is a no-op.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	held, changed := m.takeLocked(ReasonRequested, true)
	m.mu.Unlock()

	m.teardown(held, changed, ReasonRequested)
}

// Close disconnects without raising events and stops event delivery.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	held, changed := m.takeLocked(ReasonRequested, false)
	m.mu.Unlock()

	m.teardown(held, changed, ReasonRequested)
	m.transport.Unsubscribe(m.listener)
	m.events.close()
}

// takeLocked clears local state and returns the session that was held and
// whether anything changed. The disconnect event is queued here so it is
// ordered with attach events. Callers hold m.mu.
func (m *Manager) takeLocked(reason string, notify bool) (*Session, bool) {
	held := m.session
	changed := held != nil || m.pending

	m.session = nil
	m.pending = false
	m.attempt++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if changed && notify {
		var dev camera.DeviceInfo
		if held != nil {
			dev = held.Device
		}
		m.events.publish(Event{Kind: EventDisconnected, Device: dev, Reason: reason, Time: time.Now()})
	}
	return held, changed
}

// teardown performs the transport side of a disconnect outside the lock.
func (m *Manager) teardown(held *Session, changed bool, reason string) {
	if !changed {
		return
	}
	if held == nil {
		m.logger.Info("Connect attempt cancelled", zap.String("reason", reason))
		return
	}

	dev := held.Device
	if held.LiveView {
		if err := m.transport.SetLiveView(dev, false); err != nil {
			m.logger.Warn("Failed to disable live view during disconnect",
				zap.Stringer("device", dev), zap.Error(err))
		}
	}
	if err := m.transport.Release(dev); err != nil {
		m.logger.Warn("Failed to release camera",
			zap.Stringer("device", dev), zap.Error(err))
	}
	m.logger.Info("Camera disconnected",
		zap.Stringer("device", dev), zap.String("reason", reason))
}

func (m *Manager) handleAttach(dev camera.DeviceInfo) {
	m.mu.Lock()
	if m.closed || !m.pending || m.session != nil {
		m.mu.Unlock()
		m.logger.Debug("Ignoring attach outside a connect attempt", zap.Stringer("device", dev))
		return
	}
	if !dev.MatchesVendor(m.cfg.Vendor) {
		m.mu.Unlock()
		m.logger.Info("Ignoring camera from another vendor",
			zap.Stringer("device", dev), zap.String("vendor", m.cfg.Vendor))
		return
	}

	now := time.Now()
	m.session = &Session{Device: dev, ConnectedAt: now}
	m.pending = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.events.publish(Event{Kind: EventConnected, Device: dev, Time: now})
	close(m.ready)
	m.mu.Unlock()

	m.logger.Info("Camera connected", zap.Stringer("device", dev))
}

func (m *Manager) handleRemove(dev camera.DeviceInfo) {
	m.mu.Lock()
	if m.closed || m.session == nil || m.session.Device.ID != dev.ID {
		m.mu.Unlock()
		m.logger.Debug("Ignoring removal of a device not held", zap.Stringer("device", dev))
		return
	}
	m.session = nil
	m.attempt++
	m.events.publish(Event{Kind: EventDisconnected, Device: dev, Reason: ReasonRemoved, Time: time.Now()})
	m.mu.Unlock()

	m.logger.Warn("Camera removed", zap.Stringer("device", dev))
}
