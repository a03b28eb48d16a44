package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/perchcam/perchcam/internal/config"
	"github.com/perchcam/perchcam/internal/logger"
)

// Transmitter publishes camera lifecycle events to an MQTT broker. Publish
// is fire-and-forget: a slow or absent broker never blocks the capture
// path.
type Transmitter struct {
	client      mqtt.Client
	topicPrefix string
	logger      *logger.Logger
}

// NewTransmitter creates a transmitter from the MQTT configuration.
func NewTransmitter(cfg config.MQTTConfig, log *logger.Logger) *Transmitter {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetMaxReconnectInterval(time.Minute)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	return &Transmitter{
		client:      mqtt.NewClient(opts),
		topicPrefix: cfg.TopicPrefix,
		logger:      log.Named("events"),
	}
}

// Start connects to the broker. The client retries in the background, so
// Start only fails on immediate errors.
func (t *Transmitter) Start(ctx context.Context) error {
	token := t.client.Connect()
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	t.logger.Info("Event transmitter started", "prefix", t.topicPrefix)
	return nil
}

// Stop disconnects from the broker.
func (t *Transmitter) Stop(ctx context.Context) error {
	t.client.Disconnect(250)
	return nil
}

// Name implements the managed service interface.
func (t *Transmitter) Name() string { return "event-transmitter" }

// Publish sends one event. Payloads are JSON-encoded; the topic is
// prefixed with the configured namespace.
func (t *Transmitter) Publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.logger.Warn("Event payload not serializable", "topic", topic, "error", err)
		return
	}
	full := t.topicPrefix + "/" + topic
	token := t.client.Publish(full, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			t.logger.Debug("Event publish failed", "topic", full, "error", token.Error())
		}
	}()
}

// NopPublisher drops every event; used when MQTT is disabled and in tests.
type NopPublisher struct{}

// Publish implements the publisher interface.
func (NopPublisher) Publish(string, any) {}
