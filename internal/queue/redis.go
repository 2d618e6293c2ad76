package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue backs the level-queue protocol with Redis lists. External
// workers share the same lists, so the key names and push/pop directions
// here are wire protocol, not implementation detail.
type RedisQueue struct {
	client redis.Cmdable
}

// NewRedis creates a RedisQueue on an existing client. The client may be
// shared with other subsystems (the marketplace token cache uses its own
// logical database).
func NewRedis(client redis.Cmdable) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue appends a task identifier to the tail of the named level list.
func (q *RedisQueue) Enqueue(ctx context.Context, level, taskID string) error {
	if !ValidLevel(level) {
		return fmt.Errorf("queue: invalid level %q", level)
	}
	if err := q.client.RPush(ctx, level, taskID).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s to %s: %w", taskID, level, err)
	}
	return nil
}

// DequeueNext pops from the head of the first non-empty level, scanning
// level1 to level5. Each LPop is atomic in Redis, so concurrent dequeuers
// never receive the same identifier, and a lower level is only consulted
// after a higher level returned empty in this call.
func (q *RedisQueue) DequeueNext(ctx context.Context) (string, error) {
	for _, level := range Levels {
		id, err := q.client.LPop(ctx, level).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("queue: dequeue from %s: %w", level, err)
		}
		return id, nil
	}
	return "", nil
}

// Len returns the number of queued identifiers at the given level.
func (q *RedisQueue) Len(ctx context.Context, level string) (int64, error) {
	if !ValidLevel(level) {
		return 0, fmt.Errorf("queue: invalid level %q", level)
	}
	n, err := q.client.LLen(ctx, level).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len of %s: %w", level, err)
	}
	return n, nil
}
