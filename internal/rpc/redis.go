package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/logging"
)

// Publisher is the subset of the Redis client used to mirror notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisEndpoint publishes notifications to "<prefix>:<channel id>".
// It has no inbound side; buffers are attached to it through the server.
type RedisEndpoint struct {
	pub              Publisher
	prefix           string
	requireReceivers bool
	logger           *logging.Logger

	id        atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisEndpoint creates a publishing endpoint. When requireReceivers is
// true a publish that reaches no subscriber closes the endpoint.
func NewRedisEndpoint(pub Publisher, prefix string, requireReceivers bool, opts ...EndpointOption) *RedisEndpoint {
	cfg := buildEndpointConfig(opts)
	return &RedisEndpoint{
		pub:              pub,
		prefix:           prefix,
		requireReceivers: requireReceivers,
		logger:           cfg.logger.WithField("kind", "redis"),
		done:             make(chan struct{}),
	}
}

// Bind sets the channel id used in the topic name.
func (e *RedisEndpoint) Bind(id channel.ID) {
	e.id.Store(uint64(id))
}

// Topic returns the Redis channel notifications are published to.
func (e *RedisEndpoint) Topic() string {
	return fmt.Sprintf("%s:%d", e.prefix, e.id.Load())
}

// Kind implements Endpoint.
func (e *RedisEndpoint) Kind() string { return "redis" }

// Done implements Endpoint.
func (e *RedisEndpoint) Done() <-chan struct{} { return e.done }

// Close implements Endpoint. The Redis client itself is owned by the caller.
func (e *RedisEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

// Notify implements Endpoint.
func (e *RedisEndpoint) Notify(ctx context.Context, method string, params any) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	payload, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	receivers, err := e.pub.Publish(ctx, e.Topic(), payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", e.Topic(), err)
	}
	if receivers == 0 && e.requireReceivers {
		return fmt.Errorf("%w: %s", ErrNoReceivers, e.Topic())
	}
	return nil
}

// ConnectRedis opens a client for url and verifies it with PING, retrying
// up to attempts times.
func ConnectRedis(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		if attempt >= attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis ping after %d attempts: %w", attempts, err)
}

var _ Endpoint = (*RedisEndpoint)(nil)
