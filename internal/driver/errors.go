package driver

import (
	"errors"
	"fmt"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/internal/engines/session"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
)

// ErrorCodeDeviceTimedOut is the driver-specific Alpaca error number for a
// camera that stayed busy past the retry budget.
const ErrorCodeDeviceTimedOut = 0x0500

// Error is a driver error carrying an Alpaca error number.
type Error struct {
	Number  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AlpacaErrorNumber returns the Alpaca error number.
func (e *Error) AlpacaErrorNumber() int {
	return e.Number
}

func notImplemented(member string) error {
	return &Error{Number: ascomserver.ErrorCodeNotImplemented, Message: member + " is not implemented"}
}

func notConnected() error {
	return &Error{Number: ascomserver.ErrorCodeNotConnected, Message: "focuser is not connected"}
}

func noCamera() error {
	return &Error{Number: ascomserver.ErrorCodeNotConnected, Message: "no camera detected"}
}

func actionNotImplemented(name string) error {
	return &Error{Number: ascomserver.ErrorCodeActionNotImplemented, Message: "action " + name + " is not implemented"}
}

func invalidValue(format string, args ...any) error {
	return &Error{Number: ascomserver.ErrorCodeInvalidValue, Message: fmt.Sprintf(format, args...)}
}

// translate maps focuser core errors onto Alpaca error numbers.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}

	switch {
	case errors.Is(err, camera.ErrDeviceDisconnected), errors.Is(err, session.ErrClosed):
		return &Error{Number: ascomserver.ErrorCodeNotConnected, Message: "camera not connected", Err: err}
	case errors.Is(err, camera.ErrOutOfRange):
		return &Error{Number: ascomserver.ErrorCodeInvalidValue, Message: "move out of range", Err: err}
	case errors.Is(err, camera.ErrDeviceTimedOut):
		return &Error{Number: ErrorCodeDeviceTimedOut, Message: "camera busy, move timed out", Err: err}
	default:
		return &Error{Number: ascomserver.ErrorCodeUnspecifiedError, Message: "focuser error", Err: err}
	}
}
