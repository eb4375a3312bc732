// Package infra provides concrete infrastructure adapters shared by cmd/
// entrypoints that choose to back the fabric's Redis relay and the
// bridge's idempotency store with a real Redis instance instead of the
// in-memory defaults.
package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DialRedis connects to addr and verifies reachability with a Ping,
// returning the underlying *redis.Client for callers to hand to
// fabric.NewGoRedisAdapter and bridge.NewRedisIdempotencyStore, both of
// which wrap the same client for their own narrow interface rather than
// each needing their own connection. Grounded on the reference backend's
// GoRedisAdapter connection setup (dial timeouts, pool size, ping-on-
// construct); the wide multi-purpose adapter type itself is dropped since
// fabric and bridge each already define the minimal interface they need
// over *redis.Client directly.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	return client, nil
}
