// Package focus drives the camera focus motor as an absolute focuser.
//
// The camera only accepts relative drive commands while live view is on, so
// the controller keeps an emulated absolute position in memory. The position
// starts at the drive range maximum (mid-travel of [0, 2*Max]) and is
// updated only by successful moves. It is not persisted.
package focus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/pkg/retry"
)

// SessionManager is the part of the session manager the controller uses.
type SessionManager interface {
	Connected() bool
	Device() (camera.DeviceInfo, error)
	ConnectBlocking() error
	Disconnect()
	RecordLiveView(on bool)
	Transport() camera.Transport
}

// Config configures a Controller.
type Config struct {
	Mode  Mode
	Range camera.StepRange

	RetryBudget time.Duration
	RetryStep   time.Duration

	// Now and Sleep override the retry clock.
	Now   func() time.Time
	Sleep func(time.Duration)
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeScoped,
		Range:       camera.DefaultStepRange(),
		RetryBudget: retry.DefaultBudget,
		RetryStep:   retry.DefaultStep,
	}
}

// Controller executes focus moves. One operation runs at a time.
type Controller struct {
	cfg      Config
	sessions SessionManager
	logger   *zap.Logger

	// opMu serializes moves and range probes.
	opMu sync.Mutex

	mu          sync.Mutex
	position    int
	positionSet bool
	stepRange   camera.StepRange
	state       State

	moving atomic.Bool
}

// NewController creates a controller.
func NewController(cfg Config, sessions SessionManager, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeScoped
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Range == (camera.StepRange{}) {
		cfg.Range = camera.DefaultStepRange()
	}
	if err := cfg.Range.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:       cfg,
		sessions:  sessions,
		logger:    logger.With(zap.String("component", "focus_controller")),
		stepRange: cfg.Range,
	}, nil
}

// Mode returns the configured session mode.
func (c *Controller) Mode() Mode {
	return c.cfg.Mode
}

// IsMoving reports whether a drive command is in progress.
func (c *Controller) IsMoving() bool {
	return c.moving.Load()
}

// Position returns the emulated absolute position.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Controller) positionLocked() int {
	if !c.positionSet {
		c.position = c.stepRange.Max
		c.positionSet = true
	}
	return c.position
}

// StepRange returns the drive step bounds in use.
func (c *Controller) StepRange() camera.StepRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepRange
}

// MaxStep returns the highest absolute position, twice the range maximum.
func (c *Controller) MaxStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 2 * c.stepRange.Max
}

// State returns the protocol phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot for status reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	pos := c.positionLocked()
	r := c.stepRange
	state := c.state
	c.mu.Unlock()

	return Status{
		Position:  pos,
		MaxStep:   2 * r.Max,
		Range:     r,
		IsMoving:  c.IsMoving(),
		Connected: c.sessions.Connected(),
		State:     state.String(),
		Mode:      c.cfg.Mode,
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controller) policy(op string) retry.Policy {
	p := retry.Policy{
		Budget: c.cfg.RetryBudget,
		Step:   c.cfg.RetryStep,
		IsBusy: c.sessions.Transport().IsBusy,
		Now:    c.cfg.Now,
		Sleep:  c.cfg.Sleep,
	}
	p.OnRetry = func(state retry.State, delay time.Duration, err error) {
		c.logger.Debug("Device busy, retrying",
			zap.String("op", op),
			zap.Int("attempt", state.Attempts),
			zap.Duration("elapsed", state.Elapsed),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return p
}

// MoveTo moves to target using the configured mode.
func (c *Controller) MoveTo(target int) error {
	if c.cfg.Mode == ModePersistent {
		return c.Move(target)
	}
	return c.ConnectAndMove(target)
}

// Move moves to target within the current session.
func (c *Controller) Move(target int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.move(target)
}

// ConnectAndMove connects if needed, moves, and always disconnects.
func (c *Controller) ConnectAndMove(target int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	defer c.sessions.Disconnect()

	if !c.sessions.Connected() {
		if err := c.sessions.ConnectBlocking(); err != nil {
			return fmt.Errorf("failed to connect for move: %w", err)
		}
	}
	return c.move(target)
}

func (c *Controller) move(target int) error {
	dev, err := c.sessions.Device()
	if err != nil {
		return err
	}

	c.mu.Lock()
	pos := c.positionLocked()
	r := c.stepRange
	c.mu.Unlock()

	delta := target - pos
	if delta == 0 {
		return nil
	}
	if !r.Contains(delta) || target < 0 || target > 2*r.Max {
		return fmt.Errorf("%w: target %d from %d (delta %d, step range [%d, %d], max step %d)",
			camera.ErrOutOfRange, target, pos, delta, r.Min, r.Max, 2*r.Max)
	}

	dir := camera.DirectionOf(delta)
	steps := delta
	if steps < 0 {
		steps = -steps
	}
	logger := c.logger.With(zap.Int("from", pos), zap.Int("to", target))
	logger.Info("Moving focus", zap.Stringer("direction", dir), zap.Int("steps", steps))

	transport := c.sessions.Transport()

	c.setState(StateLiveViewEnabling)
	res := c.policy(camera.OpSetLive).Do(func(int) error {
		return transport.SetLiveView(dev, true)
	})
	if !res.OK() {
		return c.abort(camera.OpSetLive, res)
	}
	c.sessions.RecordLiveView(true)

	c.setState(StateDriving)
	c.moving.Store(true)
	res = c.policy(camera.OpDrive).Do(func(int) error {
		return transport.Drive(dev, dir, steps)
	})
	c.moving.Store(false)
	if !res.OK() {
		return c.abort(camera.OpDrive, res)
	}

	c.mu.Lock()
	c.position = target
	c.positionSet = true
	c.mu.Unlock()
	logger.Debug("Drive complete", zap.Int("attempts", res.Attempts), zap.Duration("elapsed", res.Elapsed))

	c.setState(StateLiveViewDisabling)
	res = c.policy(camera.OpSetLive).Do(func(int) error {
		return transport.SetLiveView(dev, false)
	})
	if !res.OK() {
		logger.Warn("Failed to disable live view, dropping session",
			zap.Stringer("outcome", res.Outcome), zap.Error(res.Err()))
		c.sessions.Disconnect()
		c.setState(StateDisconnected)
		return nil
	}
	c.sessions.RecordLiveView(false)
	c.setState(StateIdle)
	return nil
}

// abort disconnects after a failed step and maps the retry result to the
// error returned to the caller.
func (c *Controller) abort(op string, res retry.Result) error {
	c.logger.Warn("Focus move failed, disconnecting",
		zap.String("op", op),
		zap.Stringer("outcome", res.Outcome),
		zap.Int("attempts", res.Attempts),
		zap.Duration("elapsed", res.Elapsed),
		zap.Error(res.Cause))

	c.sessions.Disconnect()
	c.setState(StateDisconnected)

	if res.Outcome == retry.OutcomeExhausted {
		return fmt.Errorf("%s: %w: %w", op, camera.ErrDeviceTimedOut, res.Err())
	}
	return &camera.FatalError{Op: op, Err: res.Cause}
}

// ProbeStepRange reads the drive step range from the device. It connects
// for the duration of the probe when no session is held.
func (c *Controller) ProbeStepRange() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if !c.sessions.Connected() {
		if err := c.sessions.ConnectBlocking(); err != nil {
			return fmt.Errorf("failed to connect for range probe: %w", err)
		}
		defer c.sessions.Disconnect()
	}
	dev, err := c.sessions.Device()
	if err != nil {
		return err
	}

	transport := c.sessions.Transport()
	r, res := retry.Value(c.policy(camera.OpStepRange), func(int) (camera.StepRange, error) {
		return transport.StepRange(dev)
	})
	switch res.Outcome {
	case retry.OutcomeOK:
	case retry.OutcomeExhausted:
		return fmt.Errorf("%s: %w: %w", camera.OpStepRange, camera.ErrDeviceTimedOut, res.Err())
	default:
		return &camera.FatalError{Op: camera.OpStepRange, Err: res.Cause}
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("device reported %w", err)
	}

	c.mu.Lock()
	c.stepRange = r
	if c.positionSet && c.position > 2*r.Max {
		c.position = 2 * r.Max
	}
	c.mu.Unlock()

	c.logger.Info("Step range read from device", zap.Int("min", r.Min), zap.Int("max", r.Max))
	return nil
}
