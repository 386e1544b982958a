package camera

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names used by the simulator script and in SDKError.Op.
const (
	OpOpen       = "open"
	OpRelease    = "release"
	OpSetLive    = "liveview_set"
	OpGetLive    = "liveview_get"
	OpDrive      = "drive"
	OpStepRange  = "step_range"
	OpBridgeLink = "bridge"
)

// PTP response codes reported by the simulator for non-busy failures.
const (
	CodeSessionNotOpen   = 0x2003
	CodeInvalidParameter = 0x201D
	// CodeNotInLiveView is returned by a drive while live view is off.
	CodeNotInLiveView = 0xA00B
)

// SimulatorConfig configures the in-process camera.
type SimulatorConfig struct {
	Device DeviceInfo
	Range  StepRange
	// AutoAttach reports the device to listeners after Open.
	AutoAttach bool
	// AttachDelay is how long after Open the attach callback fires.
	AttachDelay time.Duration
	// DriveRate is the simulated motor speed in steps per second.
	// Zero completes drives instantly.
	DriveRate int
	// BusyCodes overrides DefaultBusyCodes.
	BusyCodes BusyCodes
}

// DefaultSimulatorConfig returns a simulator that attaches shortly after Open.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Device: DeviceInfo{
			ID:           "sim-0",
			Manufacturer: "Nikon Corporation",
			Model:        "D850 (simulated)",
		},
		Range:       DefaultStepRange(),
		AutoAttach:  true,
		AttachDelay: 100 * time.Millisecond,
	}
}

// DriveCall records one accepted drive command.
type DriveCall struct {
	Direction Direction
	Steps     int
}

// Simulator is an in-process Transport with scriptable failures. It is used
// for development without a camera and by package tests.
type Simulator struct {
	cfg    SimulatorConfig
	busy   BusyCodes
	logger *zap.Logger

	mu        sync.Mutex
	listeners []Listener
	attached  bool
	liveView  bool
	motor     int
	drives    []DriveCall
	calls     map[string]int
	script    map[string][]error
	sticky    map[string]error
}

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Range == (StepRange{}) {
		cfg.Range = DefaultStepRange()
	}
	busy := cfg.BusyCodes
	if busy == nil {
		busy = DefaultBusyCodes
	}
	return &Simulator{
		cfg:    cfg,
		busy:   busy,
		logger: logger.With(zap.String("component", "camera_simulator")),
		calls:  make(map[string]int),
		script: make(map[string][]error),
		sticky: make(map[string]error),
	}
}

// Script queues errors returned by the next calls of op, one per call.
func (s *Simulator) Script(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[op] = append(s.script[op], errs...)
}

// ScriptBusy queues n busy responses for op.
func (s *Simulator) ScriptBusy(op string, n int) {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &SDKError{Op: op, Code: CodeMTPDeviceBusy, Message: "device busy"}
	}
	s.Script(op, errs...)
}

// SetSticky makes every call of op fail with err until cleared with nil.
func (s *Simulator) SetSticky(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.sticky, op)
		return
	}
	s.sticky[op] = err
}

// Calls returns how many times op was invoked.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Drives returns the accepted drive commands in order.
func (s *Simulator) Drives() []DriveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DriveCall, len(s.drives))
	copy(out, s.drives)
	return out
}

// Motor returns the net simulated motor travel.
func (s *Simulator) Motor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motor
}

// Attach reports dev as attached to all listeners.
func (s *Simulator) Attach(dev DeviceInfo) {
	s.mu.Lock()
	if dev.ID == s.cfg.Device.ID {
		s.attached = true
	}
	listeners := s.snapshot()
	s.mu.Unlock()

	s.logger.Debug("Device attached", zap.Stringer("device", dev))
	for _, l := range listeners {
		l.DeviceAttached(dev)
	}
}

// Remove reports dev as removed to all listeners.
func (s *Simulator) Remove(dev DeviceInfo) {
	s.mu.Lock()
	if dev.ID == s.cfg.Device.ID {
		s.attached = false
		s.liveView = false
	}
	listeners := s.snapshot()
	s.mu.Unlock()

	s.logger.Debug("Device removed", zap.Stringer("device", dev))
	for _, l := range listeners {
		l.DeviceRemoved(dev)
	}
}

// Device returns the configured simulated device.
func (s *Simulator) Device() DeviceInfo {
	return s.cfg.Device
}

func (s *Simulator) snapshot() []Listener {
	out := make([]Listener, len(s.listeners))
	copy(out, s.listeners)
	return out
}

// next consumes a scripted error for op. Callers hold s.mu.
func (s *Simulator) next(op string) error {
	s.calls[op]++
	if err, ok := s.sticky[op]; ok {
		return err
	}
	queue := s.script[op]
	if len(queue) == 0 {
		return nil
	}
	s.script[op] = queue[1:]
	return queue[0]
}

func (s *Simulator) checkDevice(op string, dev DeviceInfo) error {
	if !s.attached || dev.ID != s.cfg.Device.ID {
		return &SDKError{Op: op, Code: CodeSessionNotOpen, Message: "no session with " + dev.ID}
	}
	return nil
}

// Open implements Transport.
func (s *Simulator) Open() error {
	s.mu.Lock()
	if err := s.next(OpOpen); err != nil {
		s.mu.Unlock()
		return err
	}
	auto := s.cfg.AutoAttach
	s.mu.Unlock()

	if auto {
		go func() {
			if s.cfg.AttachDelay > 0 {
				time.Sleep(s.cfg.AttachDelay)
			}
			s.Attach(s.cfg.Device)
		}()
	}
	return nil
}

// Subscribe implements Transport.
func (s *Simulator) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.listeners {
		if existing == l {
			return
		}
	}
	s.listeners = append(s.listeners, l)
}

// Unsubscribe implements Transport.
func (s *Simulator) Unsubscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (s *Simulator) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Release implements Transport.
func (s *Simulator) Release(dev DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(OpRelease); err != nil {
		return err
	}
	s.liveView = false
	return nil
}

// SetLiveView implements Transport.
func (s *Simulator) SetLiveView(dev DeviceInfo, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(OpSetLive); err != nil {
		return err
	}
	if err := s.checkDevice(OpSetLive, dev); err != nil {
		return err
	}
	s.liveView = enabled
	return nil
}

// LiveView implements Transport.
func (s *Simulator) LiveView(dev DeviceInfo) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(OpGetLive); err != nil {
		return false, err
	}
	if err := s.checkDevice(OpGetLive, dev); err != nil {
		return false, err
	}
	return s.liveView, nil
}

// Drive implements Transport.
func (s *Simulator) Drive(dev DeviceInfo, dir Direction, steps int) error {
	s.mu.Lock()
	if err := s.next(OpDrive); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.checkDevice(OpDrive, dev); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.liveView {
		s.mu.Unlock()
		return &SDKError{Op: OpDrive, Code: CodeNotInLiveView, Message: "live view not active"}
	}
	if !s.stepsAllowed(dir, steps) {
		s.mu.Unlock()
		return &SDKError{Op: OpDrive, Code: CodeInvalidParameter, Message: fmt.Sprintf("steps %d out of range", steps)}
	}
	s.drives = append(s.drives, DriveCall{Direction: dir, Steps: steps})
	if dir == DirectionClosest {
		s.motor -= steps
	} else {
		s.motor += steps
	}
	rate := s.cfg.DriveRate
	s.mu.Unlock()

	if rate > 0 {
		time.Sleep(time.Duration(steps) * time.Second / time.Duration(rate))
	}
	return nil
}

func (s *Simulator) stepsAllowed(dir Direction, steps int) bool {
	if steps <= 0 {
		return false
	}
	if dir == DirectionClosest {
		return -steps >= s.cfg.Range.Min
	}
	return steps <= s.cfg.Range.Max
}

// StepRange implements Transport.
func (s *Simulator) StepRange(dev DeviceInfo) (StepRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.next(OpStepRange); err != nil {
		return StepRange{}, err
	}
	if err := s.checkDevice(OpStepRange, dev); err != nil {
		return StepRange{}, err
	}
	return s.cfg.Range, nil
}

// IsBusy implements Transport.
func (s *Simulator) IsBusy(err error) bool {
	return s.busy.Match(err)
}

var _ Transport = (*Simulator)(nil)
