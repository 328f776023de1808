// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pubsub owns the connection to the publish/subscribe broker the
// bridge forwards to.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrConnectTimeout    = errors.New("timed out connecting to broker")
	ErrUnsupportedScheme = errors.New("unsupported broker address scheme")
)

// Publisher publishes payloads to broker topics. Publish is fire-and-forget:
// failures are logged by the implementation and never returned. Safe for
// concurrent use.
type Publisher interface {
	Publish(topic string, payload []byte)
	Close()
}

// Driver names.
const (
	DriverMQTT  = "mqtt"
	DriverRedis = "redis"
)

// DriverFor returns the driver that handles the given broker address.
func DriverFor(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid broker address %q: %w", address, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return DriverMQTT, nil
	case "redis", "rediss":
		return DriverRedis, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Connect opens the broker connection described by cfg. It blocks until the
// initial connection succeeds, fails, or cfg.ConnectTimeout elapses.
// Later connection losses are handled by the driver's reconnect policy.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (Publisher, error) {
	driver, err := DriverFor(cfg.Host)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	switch driver {
	case DriverRedis:
		return ConnectRedis(ctx, cfg, log)
	default:
		return ConnectMQTT(ctx, cfg, log)
	}
}
