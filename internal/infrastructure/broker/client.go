// Package broker connects the worker to Redis: outbox messages are fanned
// out on pub/sub channels and rollup ticks are serialized with a redislock.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clinicstock/pkg/logger"
)

// NewClient parses a redis:// URL and pings the server, retrying with
// capped exponential backoff until ctx is done.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	for attempt := 1; ; attempt++ {
		pingErr := client.Ping(ctx).Err()
		if pingErr == nil {
			logger.Info(ctx, "connected to redis", "addr", opts.Addr, "attempt", attempt)
			return client, nil
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		logger.Warn(ctx, "failed to connect redis, retrying",
			"addr", opts.Addr, "attempt", attempt, "error", pingErr, "retry_in", sleep)

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", pingErr)
		case <-time.After(sleep):
		}
	}
}
