package camera

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		r       StepRange
		wantErr bool
	}{
		{"default", DefaultStepRange(), false},
		{"zero width", StepRange{}, false},
		{"only forward", StepRange{Min: 0, Max: 100}, false},
		{"min positive", StepRange{Min: 1, Max: 100}, true},
		{"max negative", StepRange{Min: -100, Max: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStepRangeContains(t *testing.T) {
	r := DefaultStepRange()
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(32768))
	assert.True(t, r.Contains(-32768))
	assert.False(t, r.Contains(32769))
	assert.False(t, r.Contains(-32769))
}

func TestMatchesVendor(t *testing.T) {
	dev := DeviceInfo{ID: "1", Manufacturer: "Nikon Corporation", Model: "D850"}

	assert.True(t, dev.MatchesVendor("Nikon"))
	assert.True(t, dev.MatchesVendor("nikon"))
	assert.True(t, dev.MatchesVendor("CORPORATION"))
	assert.True(t, dev.MatchesVendor(""))
	assert.False(t, dev.MatchesVendor("Canon"))
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, DirectionClosest, DirectionOf(-1))
	assert.Equal(t, DirectionInfinity, DirectionOf(1))
	assert.Equal(t, "closest", DirectionClosest.String())
	assert.Equal(t, "infinity", DirectionInfinity.String())
}

func TestBusyCodesMatch(t *testing.T) {
	tests := []struct {
		name  string
		codes BusyCodes
		err   error
		want  bool
	}{
		{"nil error", DefaultBusyCodes, nil, false},
		{"mtp busy", DefaultBusyCodes, &SDKError{Op: OpDrive, Code: CodeMTPDeviceBusy}, true},
		{"win32 busy", DefaultBusyCodes, &SDKError{Op: OpDrive, Code: CodeErrorBusy}, true},
		{"wrapped sdk busy", DefaultBusyCodes, fmt.Errorf("drive: %w", &SDKError{Code: CodeMTPDeviceBusy}), true},
		{"sentinel", DefaultBusyCodes, fmt.Errorf("x: %w", ErrDeviceBusy), true},
		{"other code", DefaultBusyCodes, &SDKError{Code: CodeInvalidParameter}, false},
		{"plain error", DefaultBusyCodes, errors.New("boom"), false},
		{"custom set excludes win32", NewBusyCodes(CodeMTPDeviceBusy), &SDKError{Code: CodeErrorBusy}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codes.Match(tt.err))
		})
	}
}

func TestSDKErrorMessage(t *testing.T) {
	err := &SDKError{Op: OpDrive, Code: 0x2019, Message: "device busy"}
	assert.Equal(t, "sdk drive failed: code 0x2019: device busy", err.Error())

	err = &SDKError{Op: OpOpen, Code: 0xAA}
	assert.Equal(t, "sdk open failed: code 0x00AA", err.Error())
}

func TestFatalErrorUnwrap(t *testing.T) {
	cause := &SDKError{Op: OpDrive, Code: CodeInvalidParameter}
	err := fmt.Errorf("move: %w", &FatalError{Op: OpDrive, Err: cause})

	assert.True(t, IsFatal(err))
	var sdkErr *SDKError
	assert.True(t, errors.As(err, &sdkErr))
	assert.Equal(t, CodeInvalidParameter, sdkErr.Code)
	assert.False(t, IsFatal(cause))
}
