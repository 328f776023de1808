// Copyright 2024-2026 Aiku AI

// Package config loads the bridge configuration from a YAML file and the
// environment.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	up "go.mau.fi/util/configupgrade"

	"github.com/aiku/matrix2mqtt/pkg/logging"
	"github.com/aiku/matrix2mqtt/pkg/matrix"
	"github.com/aiku/matrix2mqtt/pkg/pubsub"
)

//go:embed example-config.yaml
var ExampleConfig string

var (
	ErrMissingMatrixCredentials = errors.New("missing matrix credentials")
	ErrMissingBrokerHost        = errors.New("missing broker host")
	ErrInvalidDuration          = errors.New("invalid duration")
)

// BridgeConfig holds settings of the bridge process itself.
type BridgeConfig struct {
	// StatusAPIAddr is the listen address of the status API. Empty disables it.
	StatusAPIAddr string `mapstructure:"status_api_addr"`
}

// Config is the complete bridge configuration.
type Config struct {
	Matrix  matrix.Config  `mapstructure:"matrix"`
	MQTT    pubsub.Config  `mapstructure:"mqtt"`
	Bridge  BridgeConfig   `mapstructure:"bridge"`
	Debug   bool           `mapstructure:"debug"`
	Logging logging.Config `mapstructure:"logging"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "matrix", "username")
	helper.Copy(up.Str, "matrix", "password")
	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str, "matrix", "device_name")

	helper.Copy(up.Str, "mqtt", "host")
	helper.Copy(up.Str, "mqtt", "username")
	helper.Copy(up.Str, "mqtt", "password")
	helper.Copy(up.Str, "mqtt", "client_id")
	helper.Copy(up.Str, "mqtt", "keep_alive")
	helper.Copy(up.Str, "mqtt", "reconnect_min")
	helper.Copy(up.Str, "mqtt", "reconnect_max")
	helper.Copy(up.Str, "mqtt", "connect_timeout")

	helper.Copy(up.Str, "bridge", "status_api_addr")

	helper.Copy(up.Bool, "debug")
	helper.Copy(up.Str, "logging", "format")
}

// Upgrader merges an existing config file onto the embedded example config,
// so keys added in newer versions get their defaults.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"mqtt"},
			{"bridge"},
			{"debug"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// Load reads the config file at path, filling missing keys from the example
// config, and applies environment variable overrides. A missing file is not
// an error: the example config plus the environment is used. When save is
// true, an upgraded file is written back to path.
func Load(path string, save bool) (*Config, error) {
	data := []byte(ExampleConfig)
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			data, _, err = up.Do(path, save, Upgrader())
			if err != nil {
				return nil, fmt.Errorf("failed to upgrade config: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes YAML config data with environment overrides. Keys map to
// variables by upper-casing and replacing dots, e.g. mqtt.host is MQTT_HOST.
func Parse(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

const mqttReconnectMin = time.Second

// Validate checks everything that must hold before any connection is made.
func (c *Config) Validate() error {
	if c.Matrix.UserID == "" || c.Matrix.Password == "" {
		return ErrMissingMatrixCredentials
	}
	if _, _, err := matrix.ParseUserID(c.Matrix.UserID); err != nil {
		return err
	}
	if c.MQTT.Host == "" {
		return ErrMissingBrokerHost
	}
	driver, err := pubsub.DriverFor(c.MQTT.Host)
	if err != nil {
		return err
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"mqtt.keep_alive", c.MQTT.KeepAlive},
		{"mqtt.reconnect_min", c.MQTT.ReconnectMin},
		{"mqtt.reconnect_max", c.MQTT.ReconnectMax},
		{"mqtt.connect_timeout", c.MQTT.ConnectTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidDuration, d.name)
		}
	}
	if c.MQTT.ReconnectMin > 0 && c.MQTT.ReconnectMax > 0 && c.MQTT.ReconnectMin > c.MQTT.ReconnectMax {
		return fmt.Errorf("%w: mqtt.reconnect_min is larger than mqtt.reconnect_max", ErrInvalidDuration)
	}
	// paho always starts reconnecting after one second.
	if driver == pubsub.DriverMQTT && c.MQTT.ReconnectMin > 0 && c.MQTT.ReconnectMin != mqttReconnectMin {
		return fmt.Errorf("%w: mqtt.reconnect_min only applies to redis brokers, MQTT reconnects start after %s",
			ErrInvalidDuration, mqttReconnectMin)
	}
	return nil
}
