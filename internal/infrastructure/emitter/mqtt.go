package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/visionlane/backend/internal/domain"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTConfig holds broker settings for the emitter
type MQTTConfig struct {
	Broker     string
	ClientID   string
	Topic      string
	LaneID     string
	QoS        byte
	BufferSize int
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Dropped   uint64            `json:"dropped"`
	Errors    uint64            `json:"errors"`
}

// MQTTEmitter publishes lane events to an MQTT broker. Emit only enqueues;
// a single goroutine started by Run does the publishing.
type MQTTEmitter struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *zap.Logger
	events chan domain.Event

	mu        sync.RWMutex
	connected bool
	published map[string]uint64
	dropped   uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter. A nil client builds a paho client from cfg.
func NewMQTTEmitter(cfg MQTTConfig, client mqtt.Client, logger *zap.Logger) *MQTTEmitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &MQTTEmitter{
		cfg:       cfg,
		logger:    logger,
		events:    make(chan domain.Event, cfg.BufferSize),
		published: make(map[string]uint64),
	}
	if client == nil {
		client = mqtt.NewClient(e.clientOptions())
	}
	e.client = client
	return e
}

func (e *MQTTEmitter) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established", zap.String("broker", e.cfg.Broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			zap.String("broker", e.cfg.Broker),
			zap.Error(err),
		)
	}
	return opts
}

// Connect establishes the broker connection
func (e *MQTTEmitter) Connect() error {
	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return eris.Errorf("emitter: mqtt connect to %s timed out", e.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return eris.Wrapf(err, "emitter: mqtt connect to %s", e.cfg.Broker)
	}
	e.setConnected(true)
	return nil
}

// Emit enqueues an event. When the buffer is full the event is dropped.
func (e *MQTTEmitter) Emit(event domain.Event) {
	select {
	case e.events <- event:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

// Run publishes queued events until ctx is cancelled, then disconnects
func (e *MQTTEmitter) Run(ctx context.Context) error {
	defer e.disconnect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-e.events:
			if err := e.publish(event); err != nil {
				e.logger.Warn("event publish failed",
					zap.String("type", event.Type),
					zap.Error(err),
				)
			}
		}
	}
}

// Topic returns the topic an event is published to
func (e *MQTTEmitter) Topic(event domain.Event) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.Topic, e.cfg.LaneID, event.Type)
}

func (e *MQTTEmitter) publish(event domain.Event) error {
	if !e.isConnected() {
		e.countError()
		return eris.New("emitter: mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.countError()
		return eris.Wrap(err, "emitter: marshal event")
	}

	topic := e.Topic(event)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return eris.Errorf("emitter: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return eris.Wrapf(err, "emitter: publish to %s", topic)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	return nil
}

func (e *MQTTEmitter) disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
