// Package stream publishes meter readings over MQTT.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"pm100/pkg/pm100"
)

// Reading is one published measurement.
type Reading struct {
	Time     time.Time `json:"time"`
	Quantity string    `json:"quantity"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit"`
	Sensor   string    `json:"sensor,omitempty"`
}

// Publisher publishes readings under <topic root>/readings.
type Publisher struct {
	client mqtt.Client
	topic  string
	logger log.FieldLogger
}

// Connect initializes and connects an MQTT client using the configuration
// from the store.
func Connect(cfg pm100.MQTTConfig, logger log.FieldLogger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("pm100")
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	return &Publisher{
		client: client,
		topic:  cfg.TopicRoot + "/readings",
		logger: logger.WithField("component", "mqtt"),
	}, nil
}

// Publish sends one reading. Publish failures are logged, not returned;
// a flaky broker should not interrupt the measurement loop.
func (p *Publisher) Publish(r Reading) {
	payload, _ := json.Marshal(r)
	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warnf("failed to publish reading: %v", token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(100)
}
