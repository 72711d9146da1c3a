// Package notify forwards record events to an MQTT broker, one topic per
// event type.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenMaintenanceCore/internal/config"
	"github.com/KevinKickass/OpenMaintenanceCore/internal/events"
	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Client defines the MQTT operations the notifier needs.
type Client interface {
	Publish(topic string, payload []byte) error
	Disconnect()
}

type mqttClient struct {
	client mqttlib.Client
}

// NewClient connects to the configured broker. Reconnects are automatic
// after the first successful connect.
func NewClient(cfg config.MQTTConfig, logger *zap.Logger) (Client, error) {
	opts := mqttlib.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqttlib.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqttlib.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})

	client := mqttlib.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return &mqttClient{client: client}, nil
}

func (m *mqttClient) Publish(topic string, payload []byte) error {
	token := m.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (m *mqttClient) Disconnect() {
	m.client.Disconnect(250)
}

// Notifier publishes every event it receives as JSON to
// "<prefix>/<event type>".
type Notifier struct {
	client Client
	prefix string
	logger *zap.Logger
}

func NewNotifier(client Client, topicPrefix string, logger *zap.Logger) *Notifier {
	return &Notifier{
		client: client,
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		logger: logger,
	}
}

// Topic returns the topic an event type is published on.
func (n *Notifier) Topic(t events.Type) string {
	if n.prefix == "" {
		return string(t)
	}
	return n.prefix + "/" + string(t)
}

// Run forwards feed until ctx is done or feed is closed, then disconnects.
// Publish failures are logged and do not stop the loop.
func (n *Notifier) Run(ctx context.Context, feed <-chan events.Event) {
	defer n.client.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-feed:
			if !ok {
				return
			}
			n.publish(event)
		}
	}
}

func (n *Notifier) publish(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	topic := n.Topic(event.Type)
	if err := n.client.Publish(topic, payload); err != nil {
		n.logger.Warn("MQTT publish failed",
			zap.String("topic", topic),
			zap.String("record_id", event.Record.ID.String()),
			zap.Error(err))
	}
}
