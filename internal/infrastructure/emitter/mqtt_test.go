package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionlane/backend/internal/domain"
)

// fakeToken is an already completed mqtt.Token
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes instead of talking to a broker
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishErr   error
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &fakeToken{} }

func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func testConfig() MQTTConfig {
	return MQTTConfig{
		Broker:   "localhost:1883",
		ClientID: "visionlane-test",
		Topic:    "visionlane/events",
		LaneID:   "lane-3",
		QoS:      1,
	}
}

func runEmitter(t *testing.T, e *MQTTEmitter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestMQTTEmitter_Topic(t *testing.T) {
	e := NewMQTTEmitter(testConfig(), &fakeClient{}, nil)

	assert.Equal(t, "visionlane/events/lane-3/item_added", e.Topic(domain.Event{Type: "item_added"}))
	assert.Equal(t, "visionlane/events/lane-3/state_changed", e.Topic(domain.Event{Type: "state_changed"}))
}

func TestMQTTEmitter_PublishesEvents(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitter(testConfig(), client, nil)
	require.NoError(t, e.Connect())
	runEmitter(t, e)

	event := domain.Event{
		SessionID: "s-1",
		Type:      "item_added",
		State:     domain.StateScanning,
		ProductID: "P001",
		Message:   "Mineral Water 1.5L added",
		At:        time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	e.Emit(event)

	require.Eventually(t, func() bool { return len(client.sent()) == 1 }, time.Second, 5*time.Millisecond)

	msg := client.sent()[0]
	assert.Equal(t, "visionlane/events/lane-3/item_added", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, event, decoded)

	stats := e.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.Published[msg.topic])
}

func TestMQTTEmitter_DisconnectedCountsErrors(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitter(testConfig(), client, nil)
	runEmitter(t, e)

	e.Emit(domain.Event{Type: "item_added"})

	require.Eventually(t, func() bool { return e.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, client.sent())
}

func TestMQTTEmitter_PublishFailure(t *testing.T) {
	client := &fakeClient{publishErr: errors.New("broker gone")}
	e := NewMQTTEmitter(testConfig(), client, nil)
	require.NoError(t, e.Connect())
	runEmitter(t, e)

	e.Emit(domain.Event{Type: "tray_cleared"})

	require.Eventually(t, func() bool { return e.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
}

func TestMQTTEmitter_DropsWhenBufferFull(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 2
	e := NewMQTTEmitter(cfg, &fakeClient{}, nil)

	// nothing drains the buffer until Run starts
	for i := 0; i < 5; i++ {
		e.Emit(domain.Event{Type: "item_added"})
	}

	assert.Equal(t, uint64(3), e.Stats().Dropped)
}

func TestMQTTEmitter_ConnectError(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("connection refused")}
	e := NewMQTTEmitter(testConfig(), client, nil)

	err := e.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "localhost:1883")
	assert.False(t, e.Stats().Connected)
}

func TestMQTTEmitter_RunDisconnectsOnStop(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitter(testConfig(), client, nil)
	require.NoError(t, e.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))

	assert.True(t, client.disconnected)
	assert.False(t, e.Stats().Connected)
}

func TestNopEmitter(t *testing.T) {
	var e domain.EventEmitter = NopEmitter{}
	e.Emit(domain.Event{Type: "item_added"})
}
