package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenWardCore/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publishes events for ward displays and nurse-call panels.
// Topics look like <prefix>/bed/state_changed.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMQTTSink(cfg config.MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTSink{client: client, prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"), qos: cfg.QoS}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := Topic(s.prefix, ev.Kind)
	token := s.client.Publish(topic, s.qos, false, payload)

	wait := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

// Topic maps an event kind to its MQTT topic under prefix.
func Topic(prefix string, kind Kind) string {
	return prefix + "/" + strings.ReplaceAll(string(kind), ".", "/")
}
