package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockTTL       = 30 * time.Second
	redisLockRetryWait = 50 * time.Millisecond
)

// releaseScript deletes the lock key only if this holder still owns it, so
// an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is the cross-process RunLocker: a SET NX lease per run id.
// Use it when several engine processes share one database.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Lock(ctx context.Context, runID string) (func(), error) {
	key := "tramite:run-lock:" + runID
	holder := uuid.New().String()

	for {
		acquired, err := l.client.SetNX(ctx, key, holder, redisLockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire run lock %s: %w", runID, err)
		}

		if acquired {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisLockRetryWait):
		}
	}

	unlock := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, holder).Err()
	}

	return unlock, nil
}
