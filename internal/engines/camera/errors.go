package camera

import (
	"errors"
	"fmt"
)

// Focuser error taxonomy.
var (
	// ErrDeviceDisconnected is returned when an operation needs a session
	// and none is held.
	ErrDeviceDisconnected = errors.New("device disconnected")

	// ErrOutOfRange is returned when a move exceeds the step bounds.
	ErrOutOfRange = errors.New("requested move out of range")

	// ErrDeviceTimedOut is returned when the device stayed busy past the
	// retry budget. The session has been force-disconnected.
	ErrDeviceTimedOut = errors.New("device busy, command timed out")

	// ErrDeviceBusy marks a transient busy status. It is absorbed by the
	// retry loop and never returned to callers.
	ErrDeviceBusy = errors.New("device busy")
)

// SDK status codes that mean "try again shortly". The two values come from
// different SDK generations and are not interchangeable across vendors, so
// transports declare their own busy set (see BusyCodes).
const (
	// CodeMTPDeviceBusy is the PTP/MTP "Device Busy" response code.
	CodeMTPDeviceBusy = 0x2019
	// CodeErrorBusy is the Win32 ERROR_BUSY code surfaced by older SDKs.
	CodeErrorBusy = 0xAA
)

// DefaultBusyCodes is the busy set used when a transport is not configured
// with its own.
var DefaultBusyCodes = BusyCodes{CodeMTPDeviceBusy: {}, CodeErrorBusy: {}}

// BusyCodes is a set of SDK result codes classified as busy.
type BusyCodes map[int]struct{}

// NewBusyCodes builds a set from a list of codes.
func NewBusyCodes(codes ...int) BusyCodes {
	set := make(BusyCodes, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Match reports whether err carries an SDK code in the set, or wraps
// ErrDeviceBusy.
func (b BusyCodes) Match(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceBusy) {
		return true
	}
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		_, ok := b[sdkErr.Code]
		return ok
	}
	return false
}

// SDKError is an error reported by the vendor SDK.
type SDKError struct {
	// Op is the SDK operation that failed (e.g. "drive", "liveview").
	Op string
	// Code is the vendor result code.
	Code int
	// Message is the vendor description, if any.
	Message string
}

func (e *SDKError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sdk %s failed: code 0x%04X", e.Op, e.Code)
	}
	return fmt.Sprintf("sdk %s failed: code 0x%04X: %s", e.Op, e.Code, e.Message)
}

// FatalError wraps a non-busy SDK failure surfaced to callers.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal device error: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
