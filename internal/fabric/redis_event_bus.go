package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mapleaiorg/accountability-core/internal/event"
)

// RedisPubSubClient is a minimal interface for Redis Pub/Sub publish,
// separate from a specific driver so the relay can be tested without a
// live Redis instance.
type RedisPubSubClient interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// GoRedisAdapter implements RedisPubSubClient over github.com/redis/go-redis/v9.
type GoRedisAdapter struct {
	client *redis.Client
}

// NewGoRedisAdapter wraps an existing go-redis client.
func NewGoRedisAdapter(client *redis.Client) *GoRedisAdapter {
	return &GoRedisAdapter{client: client}
}

func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	if err := a.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisRelay mirrors every event emitted on a local Fabric to Redis
// Pub/Sub, one channel per worldline, for external durable consumers
// (dashboards, cross-process provenance mirrors). It is one-directional:
// nothing received from Redis is ever re-appended to a WAL: each node's
// own WAL remains the sole source of truth for its events.
type RedisRelay struct {
	client        RedisPubSubClient
	channelPrefix string
	logger        *slog.Logger
	unsubscribe   func()
}

// NewRedisRelay attaches to fab and begins mirroring every emitted event
// to Redis under "<channelPrefix><worldline_id>".
func NewRedisRelay(fab *Fabric, client RedisPubSubClient, channelPrefix string, logger *slog.Logger) *RedisRelay {
	if channelPrefix == "" {
		channelPrefix = "maple:events:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisRelay{client: client, channelPrefix: channelPrefix, logger: logger}
	r.unsubscribe = fab.Subscribe(r.onEvent)
	return r
}

func (r *RedisRelay) onEvent(e *event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("redis relay: marshal event failed", "event_id", e.ID, "error", err)
		return
	}
	channel := r.channelPrefix + string(e.WorldlineID)
	if err := r.client.Publish(context.Background(), channel, data); err != nil {
		r.logger.Warn("redis relay: publish failed, dropping mirror delivery", "event_id", e.ID, "error", err)
	}
}

// Close detaches the relay from its fabric subscription.
func (r *RedisRelay) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
