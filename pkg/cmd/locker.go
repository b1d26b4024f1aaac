// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dailos/tramite/pkg/engine"
	"github.com/redis/go-redis/v9"
)

// NewRunLocker creates the run locker for the deployment shape: a Redis
// lease when redisURL is set (several processes share the database), the
// in-process mutex otherwise.
func NewRunLocker(ctx context.Context, logger *slog.Logger, redisURL string) (engine.RunLocker, error) {
	if redisURL == "" {
		return engine.NewMemoryLocker(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.InfoContext(ctx, "Using Redis run locker")

	return engine.NewRedisLocker(client), nil
}
