// Copyright 2024-2026 Aiku AI

package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher publishes with Redis PUBLISH, using the topic as the channel
// name. The go-redis client is safe for concurrent use and redials through
// its connection pool after a connection drops.
type RedisPublisher struct {
	client  *redis.Client
	log     zerolog.Logger
	timeout time.Duration
}

var _ Publisher = (*RedisPublisher)(nil)

// newRedisOptions parses cfg.Host as a redis:// or rediss:// URL. A
// configured username overrides credentials embedded in the URL.
func newRedisOptions(cfg Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address: %w", err)
	}
	if cfg.HasCredentials() {
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}
	opts.ClientName = cfg.ClientID
	opts.DialTimeout = cfg.ConnectTimeout
	opts.MinRetryBackoff = cfg.ReconnectMin
	opts.MaxRetryBackoff = cfg.ReconnectMax
	return opts, nil
}

// ConnectRedis creates a Redis client and checks it with PING.
func ConnectRedis(ctx context.Context, cfg Config, log zerolog.Logger) (*RedisPublisher, error) {
	cfg = cfg.withDefaults()
	log = log.With().Str("component", "redis").Logger()

	opts, err := newRedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("addr", opts.Addr).
		Bool("authenticated", opts.Password != "").
		Msg("Connecting to Redis")

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		if pingCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w after %s: %w", ErrConnectTimeout, cfg.ConnectTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

	return &RedisPublisher{
		client:  client,
		log:     log,
		timeout: cfg.ConnectTimeout,
	}, nil
}

// Publish sends payload to the channel named topic. Errors are logged only.
func (p *RedisPublisher) Publish(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, topic, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish message")
	}
}

// Close closes the client and its connection pool.
func (p *RedisPublisher) Close() {
	if err := p.client.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Failed to close Redis client")
	}
}
