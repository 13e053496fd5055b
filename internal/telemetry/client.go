// Package telemetry mirrors greenhouse snapshots to an MQTT broker.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/config"
)

const disconnectQuiesceMs = 250

var errPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of a broker connection the mirror needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Connected() bool
	Close()
}

// pahoPublisher wraps a connected paho client
type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// availabilityTopic carries "online" while connected and the broker's will otherwise
func availabilityTopic(stateTopic string) string {
	return stateTopic + "/availability"
}

func clientOptions(cfg config.MQTTSettings, logger zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetBinaryWill(availabilityTopic(cfg.Topic), []byte("offline"), cfg.QoS, true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("Connected to MQTT broker")
		c.Publish(availabilityTopic(cfg.Topic), cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.BrokerURL).Msg("Lost MQTT connection")
	})
	return opts
}

// Connect dials the broker, retrying with exponential backoff
func Connect(ctx context.Context, cfg config.MQTTSettings, logger zerolog.Logger) (Publisher, error) {
	opts := clientOptions(cfg, logger)

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectTimeout * time.Duration(retries)

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(cfg.ConnectTimeout) {
			return fmt.Errorf("connect to %s timed out", cfg.BrokerURL)
		}
		if err := token.Error(); err != nil {
			logger.Warn().Err(err).Str("broker", cfg.BrokerURL).Msg("Failed to connect to MQTT broker")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, retries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not connect to MQTT broker after %d attempts: %w", retries, err)
	}

	return &pahoPublisher{client: client, timeout: cfg.ConnectTimeout, logger: logger}, nil
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (p *pahoPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker
func (p *pahoPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesceMs)
		p.logger.Info().Msg("MQTT client disconnected")
	}
}
