package fusion

import (
	"context"
	"time"
)

const taskCacheKeyPrefix = "meshy:task:"

// TaskCache stores finished task payloads. *redis.Client from shared/redis satisfies it.
type TaskCache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func taskCacheKey(taskID string) string {
	return taskCacheKeyPrefix + taskID
}
