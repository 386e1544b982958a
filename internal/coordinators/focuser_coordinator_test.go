package coordinators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
	"github.com/unklstewy/bigskies-focuser/internal/engines/focus"
	"github.com/unklstewy/bigskies-focuser/pkg/ascomserver"
	"github.com/unklstewy/bigskies-focuser/pkg/healthcheck"
	"github.com/unklstewy/bigskies-focuser/pkg/mqtt"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Focuser.ConnectTimeout = time.Second
	cfg.Transport.Simulator.AttachDelay = time.Millisecond
	cfg.Alpaca.Server.ListenAddress = "127.0.0.1:0"
	cfg.Alpaca.Server.DiscoveryEnabled = false
	cfg.MQTT.StatusInterval = time.Hour
	cfg.Health.Interval = time.Hour
	return cfg
}

func startCoordinator(t *testing.T, cfg *config.Config, bus *mockBus) *FocuserCoordinator {
	t.Helper()
	var b mqtt.Bus
	if bus != nil {
		b = bus
	}
	c, err := NewFocuserCoordinator(cfg, b, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func command(t *testing.T, name string, args map[string]interface{}) (string, []byte) {
	t.Helper()
	msg, err := mqtt.NewMessage(mqtt.MessageTypeCommand, "test", mqtt.CommandMessage{Command: name, Args: args})
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return msg.ID, data
}

// lastResponse returns the newest response published by the coordinator.
func lastResponse(t *testing.T, bus *mockBus) (*mqtt.Message, mqtt.ResponseMessage) {
	t.Helper()
	msgs := bus.messagesOn(t, mqtt.CoordinatorResponseTopic(mqtt.CoordinatorFocuser))
	require.NotEmpty(t, msgs)
	msg := msgs[len(msgs)-1]
	var resp mqtt.ResponseMessage
	require.NoError(t, msg.UnmarshalPayload(&resp))
	return msg, resp
}

func TestFocuserCoordinatorStartSubscribes(t *testing.T) {
	bus := newMockBus()
	c := startCoordinator(t, testConfig(), bus)

	assert.True(t, c.IsRunning())
	assert.Equal(t, mqtt.CoordinatorFocuser, c.Name())
	assert.True(t, bus.subscribed(mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser)))

	// The status loop publishes once on start, retained.
	statusTopic := mqtt.CoordinatorStatusTopic(mqtt.CoordinatorFocuser)
	assert.Eventually(t, func() bool {
		for _, p := range bus.GetPublishedMessages() {
			if p.topic == statusTopic && p.retained {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestFocuserCoordinatorMoveCommand(t *testing.T) {
	bus := newMockBus()
	c := startCoordinator(t, testConfig(), bus)
	sim := c.Stack().Transport.(*camera.Simulator)

	start := c.StatusSnapshot().Position
	id, payload := command(t, CommandMove, map[string]interface{}{"position": start + 250})
	bus.deliver(t, mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser), payload)

	msg, resp := lastResponse(t, bus)
	assert.True(t, resp.Success, resp.Error)
	assert.Equal(t, id, msg.CorrelationID)
	assert.Equal(t, mqtt.MessageTypeResponse, msg.Type)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, start+250, data["position"])
	assert.Equal(t, false, data["connected"])

	assert.Equal(t, start+250, c.StatusSnapshot().Position)
	assert.Equal(t, 250, sim.Motor())

	// Scoped mode opens and closes a session around the move.
	eventTopic := func(kind string) string {
		return mqtt.CoordinatorEventTopic(mqtt.CoordinatorFocuser, kind)
	}
	assert.Eventually(t, func() bool {
		return len(bus.messagesOn(t, eventTopic("connected"))) == 1 &&
			len(bus.messagesOn(t, eventTopic("disconnected"))) == 1
	}, time.Second, 5*time.Millisecond)

	events := bus.messagesOn(t, eventTopic("connected"))
	var ev mqtt.EventMessage
	require.NoError(t, events[0].UnmarshalPayload(&ev))
	assert.Equal(t, "connected", ev.Event)
	assert.Equal(t, "sim-0", ev.Data["device_id"])
}

func TestFocuserCoordinatorBareCommand(t *testing.T) {
	bus := newMockBus()
	startCoordinator(t, testConfig(), bus)

	bus.deliver(t, mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser), []byte(`{"command":"status"}`))

	_, resp := lastResponse(t, bus)
	assert.True(t, resp.Success)
}

func TestFocuserCoordinatorCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload func(t *testing.T) []byte
		wantErr string
	}{
		{
			name:    "invalid json",
			payload: func(*testing.T) []byte { return []byte("{not json") },
			wantErr: "invalid command payload",
		},
		{
			name:    "missing command",
			payload: func(*testing.T) []byte { return []byte(`{"args":{}}`) },
			wantErr: "command is required",
		},
		{
			name: "unknown command",
			payload: func(t *testing.T) []byte {
				_, p := command(t, "focus_harder", nil)
				return p
			},
			wantErr: "unknown command",
		},
		{
			name: "missing position",
			payload: func(t *testing.T) []byte {
				_, p := command(t, CommandMove, nil)
				return p
			},
			wantErr: `argument "position" is required`,
		},
		{
			name: "fractional position",
			payload: func(t *testing.T) []byte {
				_, p := command(t, CommandMove, map[string]interface{}{"position": 10.5})
				return p
			},
			wantErr: "must be an integer",
		},
		{
			name: "position out of range",
			payload: func(t *testing.T) []byte {
				_, p := command(t, CommandMove, map[string]interface{}{"position": -1})
				return p
			},
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newMockBus()
			startCoordinator(t, testConfig(), bus)

			bus.deliver(t, mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser), tt.payload(t))

			_, resp := lastResponse(t, bus)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestFocuserCoordinatorConnectDisconnect(t *testing.T) {
	bus := newMockBus()
	cfg := testConfig()
	cfg.Focuser.Mode = string(focus.ModePersistent)
	c := startCoordinator(t, cfg, bus)
	topic := mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser)

	_, payload := command(t, CommandConnect, nil)
	bus.deliver(t, topic, payload)
	_, resp := lastResponse(t, bus)
	require.True(t, resp.Success, resp.Error)
	assert.True(t, c.Stack().Sessions.Connected())

	_, payload = command(t, CommandProbeRange, nil)
	bus.deliver(t, topic, payload)
	_, resp = lastResponse(t, bus)
	require.True(t, resp.Success, resp.Error)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, data, 2)

	_, payload = command(t, CommandDisconnect, nil)
	bus.deliver(t, topic, payload)
	_, resp = lastResponse(t, bus)
	require.True(t, resp.Success, resp.Error)
	assert.False(t, c.Stack().Sessions.Connected())
}

func TestFocuserCoordinatorConnectWithoutCamera(t *testing.T) {
	bus := newMockBus()
	cfg := testConfig()
	cfg.Focuser.ConnectTimeout = 20 * time.Millisecond
	cfg.Focuser.Vendor = "Canon"
	startCoordinator(t, cfg, bus)

	_, payload := command(t, CommandConnect, nil)
	bus.deliver(t, mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser), payload)

	_, resp := lastResponse(t, bus)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrNoCamera.Error(), resp.Error)
}

func TestFocuserCoordinatorSessionHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Focuser.Mode = string(focus.ModePersistent)
	c := startCoordinator(t, cfg, nil)
	ctx := context.Background()

	res := c.HealthEngine().CheckAll(ctx).Components[SessionCheckName]
	require.NotNil(t, res)
	assert.Equal(t, healthcheck.StatusDegraded, res.Status)
	assert.Equal(t, false, res.Details["connected"])
	assert.Equal(t, config.TransportSimulator, res.Details["transport"])

	require.NoError(t, c.Stack().Sessions.ConnectBlocking())
	res = c.HealthEngine().CheckAll(ctx).Components[SessionCheckName]
	assert.Equal(t, healthcheck.StatusHealthy, res.Status)
	assert.Equal(t, "idle", res.Details["state"])
}

func TestFocuserCoordinatorScopedIdleIsHealthy(t *testing.T) {
	c := startCoordinator(t, testConfig(), nil)

	res := c.HealthEngine().CheckAll(context.Background()).Components[SessionCheckName]
	require.NotNil(t, res)
	assert.Equal(t, healthcheck.StatusHealthy, res.Status)
	assert.Equal(t, string(focus.ModeScoped), res.Details["mode"])
}

func TestFocuserCoordinatorServesAlpaca(t *testing.T) {
	c := startCoordinator(t, testConfig(), nil)
	router := c.Server().Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/focuser/0/maxstep?ClientTransactionID=7", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ascomserver.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.ErrorNumber)
	assert.EqualValues(t, 2*camera.DefaultStepMax, resp.Value)
	assert.EqualValues(t, 7, resp.ClientTransactionID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/management/v1/configureddevices", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ascomserver.DeviceUniqueID(
		c.cfg.Alpaca.Server.ServerName, "focuser", c.cfg.Focuser.DeviceNumber))
}

func TestFocuserCoordinatorStop(t *testing.T) {
	bus := newMockBus()
	c, err := NewFocuserCoordinator(testConfig(), bus, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.Stack().Sessions.ConnectBlocking())
	require.NoError(t, c.Stop(ctx))

	assert.False(t, c.IsRunning())
	assert.False(t, bus.IsConnected())
	assert.False(t, bus.subscribed(mqtt.CoordinatorCommandTopic(mqtt.CoordinatorFocuser)))
	assert.False(t, c.Stack().Sessions.Connected())
}

func TestFocuserCoordinatorSubscribeFailure(t *testing.T) {
	bus := newMockBus()
	bus.subscribeErr = assert.AnError
	c, err := NewFocuserCoordinator(testConfig(), bus, nil)
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsRunning())
}

func TestNewFocuserCoordinatorRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Type = "usb"
	_, err := NewFocuserCoordinator(cfg, nil, nil)
	assert.Error(t, err)
}

func TestIntArg(t *testing.T) {
	n, err := intArg(map[string]interface{}{"position": float64(42)}, "position")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = intArg(map[string]interface{}{"position": "42"}, "position")
	assert.Error(t, err)
}
