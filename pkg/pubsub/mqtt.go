// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pubsub

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// qosAtMostOnce is MQTT QoS 0: no acknowledgement, no redelivery.
const qosAtMostOnce byte = 0

// disconnectQuiesce is how long Close lets queued publishes drain, in milliseconds.
const disconnectQuiesce = 250

// MQTTPublisher publishes over a single paho client. The paho client is
// safe for concurrent Publish calls.
type MQTTPublisher struct {
	client mqtt.Client
	log    zerolog.Logger
}

var _ Publisher = (*MQTTPublisher)(nil)

// newClientOptions builds the paho options: clean session on every
// (re)connect, automatic reconnect with paho's exponential backoff starting
// at one second and capped at cfg.ReconnectMax, and credentials only when a
// username is configured.
func newClientOptions(cfg Config, log zerolog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Host).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(cfg.ReconnectMax).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectRetry(false)

	if cfg.HasCredentials() {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Host).Msg("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Host).Msg("Lost connection to MQTT broker, reconnecting")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Debug().Str("broker", cfg.Host).Msg("Reconnecting to MQTT broker")
	})
	return opts
}

// ConnectMQTT creates a paho client and performs the initial connect.
func ConnectMQTT(ctx context.Context, cfg Config, log zerolog.Logger) (*MQTTPublisher, error) {
	cfg = cfg.withDefaults()
	log = log.With().Str("component", "mqtt").Logger()
	log.Info().
		Str("broker", cfg.Host).
		Str("client_id", cfg.ClientID).
		Bool("authenticated", cfg.HasCredentials()).
		Msg("Connecting to MQTT broker")

	p := newMQTTPublisher(mqtt.NewClient(newClientOptions(cfg, log)), log)
	if err := p.connect(ctx, cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	return p, nil
}

func newMQTTPublisher(client mqtt.Client, log zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		log:    log,
	}
}

func (p *MQTTPublisher) connect(ctx context.Context, timeout time.Duration) error {
	token := p.client.Connect()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		p.client.Disconnect(0)
		return fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
	case <-ctx.Done():
		p.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return nil
}

// Publish sends payload to topic with QoS 0, not retained. The delivery
// result is observed asynchronously and only logged.
func (p *MQTTPublisher) Publish(topic string, payload []byte) {
	token := p.client.Publish(topic, qosAtMostOnce, false, payload)
	go p.observe(topic, token)
}

func (p *MQTTPublisher) observe(topic string, token mqtt.Token) {
	<-token.Done()
	if err := token.Error(); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish message")
	}
}

// IsConnected reports whether the client currently holds a broker connection.
func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
