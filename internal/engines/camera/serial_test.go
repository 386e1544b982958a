package camera

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge plays the device side of the serial protocol over a pipe.
type fakeBridge struct {
	mu       sync.Mutex
	conn     net.Conn
	commands []string
	reply    func(cmd string) string
	opens    int
}

func (f *fakeBridge) open(string, int) (io.ReadWriteCloser, error) {
	host, device := net.Pipe()
	f.mu.Lock()
	f.conn = device
	f.opens++
	f.mu.Unlock()

	go func() {
		scanner := bufio.NewScanner(device)
		for scanner.Scan() {
			cmd := scanner.Text()
			f.mu.Lock()
			f.commands = append(f.commands, cmd)
			reply := f.reply
			f.mu.Unlock()
			if out := reply(cmd); out != "" {
				if _, err := io.WriteString(device, out+"\n"); err != nil {
					return
				}
			}
		}
	}()
	return host, nil
}

func (f *fakeBridge) send(t *testing.T, line string) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	_, err := io.WriteString(conn, line+"\n")
	require.NoError(t, err)
}

func (f *fakeBridge) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func newTestBridge(reply func(string) string) (*SerialBridge, *fakeBridge) {
	fake := &fakeBridge{reply: reply}
	cfg := SerialConfig{
		Port:            "test",
		ResponseTimeout: 200 * time.Millisecond,
		DriveTimeout:    200 * time.Millisecond,
	}
	return NewSerialBridge(cfg, fake.open, nil), fake
}

func okReply(string) string { return "OK" }

var bridgeDev = DeviceInfo{ID: "usb-1", Manufacturer: "Nikon Corporation", Model: "Z6"}

func TestSerialBridgeCommands(t *testing.T) {
	bridge, fake := newTestBridge(func(cmd string) string {
		switch cmd {
		case "LV? usb-1":
			return "OK 1"
		case "RANGE? usb-1":
			return "OK -500 500"
		default:
			return "OK"
		}
	})
	defer bridge.Close()

	require.NoError(t, bridge.Open())
	require.NoError(t, bridge.SetLiveView(bridgeDev, true))
	on, err := bridge.LiveView(bridgeDev)
	require.NoError(t, err)
	assert.True(t, on)
	require.NoError(t, bridge.Drive(bridgeDev, DirectionClosest, 120))
	r, err := bridge.StepRange(bridgeDev)
	require.NoError(t, err)
	assert.Equal(t, StepRange{Min: -500, Max: 500}, r)
	require.NoError(t, bridge.Release(bridgeDev))

	assert.Equal(t, []string{
		"OPEN",
		"LV usb-1 1",
		"LV? usb-1",
		"DRIVE usb-1 CLOSEST 120",
		"RANGE? usb-1",
		"RELEASE usb-1",
	}, fake.sent())
}

func TestSerialBridgeErrorResponses(t *testing.T) {
	bridge, _ := newTestBridge(func(cmd string) string {
		switch cmd {
		case "OPEN":
			return "OK"
		case "DRIVE usb-1 INFINITY 10":
			return "ERR 0x2019 device busy"
		default:
			return "ERR 0xA00B live view not active"
		}
	})
	defer bridge.Close()
	require.NoError(t, bridge.Open())

	err := bridge.Drive(bridgeDev, DirectionInfinity, 10)
	var sdkErr *SDKError
	require.True(t, errors.As(err, &sdkErr))
	assert.Equal(t, CodeMTPDeviceBusy, sdkErr.Code)
	assert.Equal(t, "device busy", sdkErr.Message)
	assert.True(t, bridge.IsBusy(err))

	err = bridge.SetLiveView(bridgeDev, false)
	require.Error(t, err)
	assert.False(t, bridge.IsBusy(err))
}

func TestSerialBridgeTimeout(t *testing.T) {
	bridge, _ := newTestBridge(func(cmd string) string {
		if cmd == "OPEN" {
			return "OK"
		}
		return ""
	})
	defer bridge.Close()
	require.NoError(t, bridge.Open())

	err := bridge.Release(bridgeDev)
	assert.ErrorIs(t, err, ErrBridgeTimeout)
	assert.False(t, bridge.IsBusy(err))
}

func TestSerialBridgeDeviceEvents(t *testing.T) {
	bridge, fake := newTestBridge(okReply)
	defer bridge.Close()

	l := &recordingListener{}
	bridge.Subscribe(l)
	bridge.Subscribe(l)
	require.NoError(t, bridge.Open())

	fake.send(t, "ATTACH usb-1|Nikon Corporation|Z6")
	fake.send(t, "ATTACH garbage")
	fake.send(t, "REMOVE usb-1|Nikon Corporation|Z6")

	assert.Eventually(t, func() bool {
		a, r := l.counts()
		return a == 1 && r == 1
	}, time.Second, 5*time.Millisecond)

	l.mu.Lock()
	assert.Equal(t, bridgeDev, l.attached[0])
	l.mu.Unlock()
}

func TestSerialBridgeLinkLossRemovesDevices(t *testing.T) {
	bridge, fake := newTestBridge(okReply)
	l := &recordingListener{}
	bridge.Subscribe(l)
	require.NoError(t, bridge.Open())

	fake.send(t, "ATTACH usb-1|Nikon Corporation|Z6")
	assert.Eventually(t, func() bool {
		a, _ := l.counts()
		return a == 1
	}, time.Second, 5*time.Millisecond)

	fake.mu.Lock()
	require.NoError(t, fake.conn.Close())
	fake.mu.Unlock()

	assert.Eventually(t, func() bool {
		_, r := l.counts()
		return r == 1
	}, time.Second, 5*time.Millisecond)

	// The next command reopens the link.
	require.NoError(t, bridge.Open())
	fake.mu.Lock()
	assert.Equal(t, 2, fake.opens)
	fake.mu.Unlock()
	require.NoError(t, bridge.Close())
}

func TestParseResponse(t *testing.T) {
	payload, err := parseResponse(OpGetLive, "OK 0")
	require.NoError(t, err)
	assert.Equal(t, "0", payload)

	_, err = parseResponse(OpDrive, "ERR nope")
	assert.Error(t, err)

	_, err = parseResponse(OpDrive, "HELLO")
	assert.Error(t, err)

	_, err = parseResponse(OpDrive, "ERR 170")
	var sdkErr *SDKError
	require.True(t, errors.As(err, &sdkErr))
	assert.Equal(t, CodeErrorBusy, sdkErr.Code)
}
