// Package publisher pushes meter data to an MQTT broker in Home
// Assistant friendly topics, so readings fetched by the CLI show up as
// sensors.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartmeterbn/usms/internal/config"
	"github.com/smartmeterbn/usms/pkg/models"
)

// Publisher handles publishing meter data to an MQTT broker.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the configured broker.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT publishing is not enabled in config")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.GetClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.GetTopicPrefix(),
	}, nil
}

type readingPayload struct {
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	CapturedAt string  `json:"captured_at"`
}

type consumptionPayload struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Start string  `json:"start"`
}

// PublishReading pushes an instantaneous reading. The message is
// retained so new subscribers see the latest state.
func (p *Publisher) PublishReading(meterNo string, reading models.Reading) error {
	payload := readingPayload{
		Value:      reading.Value,
		Unit:       reading.Unit,
		CapturedAt: reading.CapturedAt.Format(time.RFC3339),
	}
	topic := fmt.Sprintf("%s/%s/reading", p.topicPrefix, meterNo)
	return p.publish(topic, payload, true)
}

// PublishConsumption pushes one consumption entry.
func (p *Publisher) PublishConsumption(meterNo string, granularity models.Granularity, entry models.ConsumptionEntry) error {
	if entry.Missing {
		return nil
	}
	payload := consumptionPayload{
		Value: entry.Value,
		Unit:  entry.Unit,
		Start: entry.Start.Format(time.RFC3339),
	}
	topic := fmt.Sprintf("%s/%s/consumption/%s", p.topicPrefix, meterNo, granularity)
	return p.publish(topic, payload, false)
}

func (p *Publisher) publish(topic string, payload any, retain bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	token := p.client.Publish(topic, 1, retain, body)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the MQTT broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
