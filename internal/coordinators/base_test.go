package coordinators

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/config"
	"github.com/unklstewy/bigskies-focuser/pkg/healthcheck"
	"github.com/unklstewy/bigskies-focuser/pkg/mqtt"
)

// mockBus is a test double for the MQTT client.
type mockBus struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	publishErr    error
	subscribeErr  error
	publishedMsgs []publishedMessage
	subscriptions map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

func newMockBus() *mockBus {
	return &mockBus{
		connected:     true,
		subscriptions: make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockBus) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockBus) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *mockBus) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishedMsgs = append(m.publishedMsgs, publishedMessage{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload,
	})
	return nil
}

func (m *mockBus) PublishJSON(topic string, qos byte, retained bool, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.Publish(topic, qos, retained, data)
}

func (m *mockBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockBus) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

// deliver invokes the handler subscribed to topic, as the broker would.
func (m *mockBus) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.subscriptions[topic]
	m.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	require.NoError(t, handler(topic, payload))
}

func (m *mockBus) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[topic]
	return ok
}

func (m *mockBus) GetPublishedMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage{}, m.publishedMsgs...)
}

// messagesOn returns the envelopes published to topic.
func (m *mockBus) messagesOn(t *testing.T, topic string) []*mqtt.Message {
	t.Helper()
	var out []*mqtt.Message
	for _, p := range m.GetPublishedMessages() {
		if p.topic != topic {
			continue
		}
		msg, err := mqtt.ParseMessage(p.payload)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

var _ mqtt.Bus = (*mockBus)(nil)

func TestBaseCoordinatorLifecycle(t *testing.T) {
	bus := newMockBus()
	bus.connected = false
	bc := NewBaseCoordinator("test", bus, zap.NewNop())

	assert.Equal(t, "test", bc.Name())
	assert.False(t, bc.IsRunning())

	ctx := context.Background()
	require.NoError(t, bc.Start(ctx))
	assert.True(t, bc.IsRunning())
	assert.True(t, bus.IsConnected())

	assert.Error(t, bc.Start(ctx), "second start should fail")

	require.NoError(t, bc.Stop(ctx))
	assert.False(t, bc.IsRunning())
	assert.False(t, bus.IsConnected())

	// Stopping twice is a no-op.
	require.NoError(t, bc.Stop(ctx))
}

func TestBaseCoordinatorStartConnectError(t *testing.T) {
	bus := newMockBus()
	bus.connected = false
	bus.connectErr = errors.New("broker unreachable")
	bc := NewBaseCoordinator("test", bus, nil)

	err := bc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.False(t, bc.IsRunning())
}

func TestBaseCoordinatorShutdownOrder(t *testing.T) {
	bc := NewBaseCoordinator("test", nil, nil)
	require.NoError(t, bc.Start(context.Background()))

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bc.RegisterShutdownFunc(func(context.Context) error {
			order = append(order, i)
			if i == 2 {
				return errors.New("ignored")
			}
			return nil
		})
	}

	require.NoError(t, bc.Stop(context.Background()))
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestBaseCoordinatorHealthCheck(t *testing.T) {
	bus := newMockBus()
	bc := NewBaseCoordinator("test", bus, nil)
	ctx := context.Background()

	res := bc.HealthCheck(ctx)
	assert.Equal(t, healthcheck.StatusUnhealthy, res.Status)
	assert.Equal(t, false, res.Details["running"])

	require.NoError(t, bc.Start(ctx))
	res = bc.HealthCheck(ctx)
	assert.Equal(t, healthcheck.StatusHealthy, res.Status)
	assert.Equal(t, true, res.Details["mqtt_connected"])
	assert.Contains(t, res.Details, "uptime_seconds")

	bus.Disconnect()
	res = bc.HealthCheck(ctx)
	assert.Equal(t, healthcheck.StatusDegraded, res.Status)
	assert.Equal(t, "MQTT client not connected", res.Message)
}

func TestBaseCoordinatorWithoutBusIsHealthy(t *testing.T) {
	bc := NewBaseCoordinator("test", nil, nil)
	require.NoError(t, bc.Start(context.Background()))

	res := bc.HealthCheck(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, res.Status)
	assert.Equal(t, false, res.Details["mqtt_connected"])

	// Returns immediately without a bus.
	bc.StartHealthPublishing(context.Background(), time.Millisecond)
}

func TestBaseCoordinatorPublishHealth(t *testing.T) {
	bus := newMockBus()
	bc := NewBaseCoordinator("test", bus, nil)
	ctx := context.Background()
	require.NoError(t, bc.Start(ctx))

	bc.RegisterHealthCheck(healthcheck.NewChecker("component", func(context.Context) *healthcheck.Result {
		return healthcheck.NewResult("component", healthcheck.StatusDegraded, "slow")
	}))

	require.NoError(t, bc.publishHealth(ctx, bc.HealthEngine().CheckAll(ctx)))

	msgs := bus.messagesOn(t, mqtt.CoordinatorHealthTopic("test"))
	require.Len(t, msgs, 1)
	assert.Equal(t, mqtt.MessageTypeStatus, msgs[0].Type)
	assert.Equal(t, "coordinator:test", msgs[0].Source)

	var health healthcheck.Result
	require.NoError(t, msgs[0].UnmarshalPayload(&health))
	assert.Equal(t, healthcheck.StatusDegraded, health.Status)
	assert.Contains(t, health.Details, "components")

	bus.publishErr = errors.New("broker down")
	assert.Error(t, bc.publishHealth(ctx, nil))
}

func TestBaseCoordinatorHealthPublishingLoop(t *testing.T) {
	bus := newMockBus()
	bc := NewBaseCoordinator("test", bus, nil)
	require.NoError(t, bc.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bc.StartHealthPublishing(ctx, 5*time.Millisecond)
		close(done)
	}()

	topic := mqtt.CoordinatorHealthTopic("test")
	assert.Eventually(t, func() bool {
		return len(bus.messagesOn(t, topic)) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestCreateMQTTClient(t *testing.T) {
	cfg := config.DefaultConfig().MQTT
	client, err := CreateMQTTClient(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.False(t, client.IsConnected())

	cfg.BrokerURL = ""
	_, err = CreateMQTTClient(cfg, nil)
	assert.Error(t, err)
}
