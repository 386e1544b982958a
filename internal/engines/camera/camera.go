// Package camera defines the capability interface the focuser core needs from
// a vendor camera SDK, the focuser error taxonomy, and the transports that
// implement the interface.
//
// The vendor SDK is an external collaborator. A Transport hides which SDK
// generation or bridge is in use so that the session manager and focus
// controller carry a single canonical implementation.
package camera

import (
	"fmt"
	"strings"
)

// DefaultStepMin and DefaultStepMax are the hardware-independent drive step
// bounds used when the range is not read from the device.
const (
	DefaultStepMin = -32768
	DefaultStepMax = 32768
)

// DeviceInfo identifies an attached camera.
type DeviceInfo struct {
	// ID is the transport-specific handle of the device.
	ID string `json:"id"`
	// Manufacturer is the vendor string reported by the device.
	Manufacturer string `json:"manufacturer"`
	// Model is the camera model name.
	Model string `json:"model"`
}

// String returns a compact identity for logs.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Manufacturer, d.Model, d.ID)
}

// MatchesVendor reports whether the device manufacturer contains vendor,
// ignoring case. An empty vendor matches every device.
func (d DeviceInfo) MatchesVendor(vendor string) bool {
	if vendor == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Manufacturer), strings.ToLower(vendor))
}

// Direction is the manual focus drive direction.
type Direction int

const (
	// DirectionClosest drives toward the closest focus distance.
	DirectionClosest Direction = iota
	// DirectionInfinity drives toward infinity.
	DirectionInfinity
)

// String returns the direction name.
func (d Direction) String() string {
	if d == DirectionClosest {
		return "closest"
	}
	return "infinity"
}

// DirectionOf returns the drive direction for a signed step delta.
// Negative deltas move toward closest focus.
func DirectionOf(delta int) Direction {
	if delta < 0 {
		return DirectionClosest
	}
	return DirectionInfinity
}

// StepRange holds the legal relative step bounds of one drive command.
type StepRange struct {
	Min int `json:"min" mapstructure:"min"`
	Max int `json:"max" mapstructure:"max"`
}

// DefaultStepRange returns the constant ±32768 range.
func DefaultStepRange() StepRange {
	return StepRange{Min: DefaultStepMin, Max: DefaultStepMax}
}

// Validate checks Min <= 0 <= Max.
func (r StepRange) Validate() error {
	if r.Min > 0 || r.Max < 0 {
		return fmt.Errorf("invalid step range [%d, %d]: must satisfy min <= 0 <= max", r.Min, r.Max)
	}
	return nil
}

// Contains reports whether delta is within the range.
func (r StepRange) Contains(delta int) bool {
	return delta >= r.Min && delta <= r.Max
}

// Listener receives attach and removal notifications from a transport.
// Callbacks run on a transport-owned goroutine.
type Listener interface {
	DeviceAttached(dev DeviceInfo)
	DeviceRemoved(dev DeviceInfo)
}

// Transport is the capability interface over a vendor camera SDK.
//
// Every call except Subscribe and Unsubscribe may fail with an error that
// IsBusy classifies as transient, or with a fatal error.
type Transport interface {
	// Open starts device enumeration. Attached devices are reported to
	// subscribed listeners asynchronously.
	Open() error

	// Subscribe registers l for attach and removal callbacks. Subscribing
	// the same listener twice must not cause duplicate delivery.
	Subscribe(l Listener)

	// Unsubscribe removes l. Unknown listeners are ignored.
	Unsubscribe(l Listener)

	// Release closes the session with dev.
	Release(dev DeviceInfo) error

	// SetLiveView switches live view on or off. Live view must be on for
	// the focus motor to accept drive commands.
	SetLiveView(dev DeviceInfo, enabled bool) error

	// LiveView reports the current live view state.
	LiveView(dev DeviceInfo) (bool, error)

	// Drive moves the focus motor by steps (always positive) in dir and
	// returns once the motor has stopped.
	Drive(dev DeviceInfo, dir Direction, steps int) error

	// StepRange reads the drive step bounds from the device.
	StepRange(dev DeviceInfo) (StepRange, error)

	// IsBusy reports whether err is a transient busy status for this SDK.
	IsBusy(err error) bool
}
