package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string // base topic, e.g. "daynight/behavior"
	QoS      byte
}

// MQTTSink publishes envelopes to <topic>/<project>/<kind>.
type MQTTSink struct {
	log    *zap.Logger
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published map[Kind]uint64
}

// NewMQTTSink creates an unconnected sink.
func NewMQTTSink(log *zap.Logger, cfg MQTTConfig) *MQTTSink {
	if cfg.Topic == "" {
		cfg.Topic = "daynight/behavior"
	}
	return &MQTTSink{
		log:       log,
		cfg:       cfg,
		published: make(map[Kind]uint64),
	}
}

// Connect establishes the broker connection with auto reconnect enabled.
func (s *MQTTSink) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	broker := s.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		s.log.Info("MQTT connection established", zap.String("broker", broker), zap.String("client_id", s.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		s.log.Warn("MQTT connection lost, will auto-reconnect", zap.Error(err))
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	return nil
}

// Send publishes env as JSON and waits for the broker acknowledgement.
func (s *MQTTSink) Send(ctx context.Context, env Envelope) error {
	if s.client == nil || !s.IsConnected() {
		return fmt.Errorf("mqtt publish: not connected")
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", env.Kind, err)
	}

	topic := s.Topic(env)
	token := s.client.Publish(topic, s.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}

	s.mu.Lock()
	s.published[env.Kind]++
	s.mu.Unlock()
	return nil
}

// Topic returns the topic env is published on.
func (s *MQTTSink) Topic(env Envelope) string {
	project := env.ProjectID
	if project == "" {
		project = "unknown"
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Topic, "/"), project, env.Kind)
}

// IsConnected reports the last known connection state.
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Published returns how many envelopes of kind were acknowledged.
func (s *MQTTSink) Published(kind Kind) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published[kind]
}

// Disconnect closes the broker connection.
func (s *MQTTSink) Disconnect() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
