package forwarder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"objectdetection/internal/logger"
)

const mqttQoS = 1

// MQTTSink publishes the JSON payload to <prefix>/<topic>/<resolution>.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewMQTTSink connects to broker (host:port or a full URL).
func NewMQTTSink(ctx context.Context, broker, clientID, prefix string, logger *logger.Logger) (*MQTTSink, error) {
	s := &MQTTSink{prefix: strings.Trim(prefix, "/"), logger: logger}

	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("MQTT connection established to %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warning("MQTT connection lost, will auto-reconnect: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()

	wait := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		// connect retry keeps going in the background
		s.logger.Warning("MQTT broker %s not reachable yet, continuing in background", broker)
		return s, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.setConnected(true)
	return s, nil
}

func (s *MQTTSink) Name() string { return SinkMQTT }

// Topic returns the MQTT topic for a source topic and resolution.
func (s *MQTTSink) Topic(source, resolution string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, source, resolution)
}

func (s *MQTTSink) Send(ctx context.Context, msg *Message) error {
	if !s.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := NewPayload(msg, true).marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	topic := s.Topic(msg.Result.Topic, msg.Result.Resolution.String())
	token := s.client.Publish(topic, mqttQoS, false, payload)

	wait := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	s.setConnected(false)
	return nil
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
