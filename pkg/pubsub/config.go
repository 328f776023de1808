// Copyright 2024-2026 Aiku AI

package pubsub

import (
	"time"

	"github.com/google/uuid"
)

// Config describes the broker endpoint. The driver is chosen from the scheme
// of Host: tcp, ssl, tls, mqtt, mqtts, ws and wss select MQTT, redis and
// rediss select Redis.
type Config struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ClientID identifies the connection to the broker. A random
	// matrix2mqtt-prefixed ID is generated when empty.
	ClientID string `mapstructure:"client_id"`

	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ReconnectMin   time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "tcp://mqtt.localdomain:1883",
		KeepAlive:      20 * time.Second,
		ReconnectMin:   1 * time.Second,
		ReconnectMax:   60 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig and generates a client ID.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = def.ReconnectMin
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = def.ReconnectMax
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ClientID == "" {
		// MQTT 3.1 servers may reject client IDs longer than 23 bytes.
		c.ClientID = "matrix2mqtt-" + uuid.NewString()[:8]
	}
	return c
}

// HasCredentials reports whether the connection should authenticate.
func (c Config) HasCredentials() bool {
	return c.Username != ""
}
