package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

// redisBoundedPushScript checks the list length and pushes atomically so two
// producers cannot race past the capacity.
// KEYS[1] = queue key (e.g. "warden:queue:ledger")
// ARGV[1] = capacity (max queued items)
// ARGV[2] = serialized operation
var redisBoundedPushScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])

if redis.call("LLEN", key) >= capacity then
    return 0
end

redis.call("RPUSH", key, ARGV[2])
return 1
`)

// RedisQueue implements Queue on a Redis list per service, for deployments
// where queued work must survive a process restart.
type RedisQueue struct {
	client   *redis.Client
	capacity int
	prefix   string
}

// NewRedisQueue creates a Redis-backed queue with the given per-service
// capacity (DefaultCapacity if zero).
func NewRedisQueue(client *redis.Client, capacity int) *RedisQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisQueue{
		client:   client,
		capacity: capacity,
		prefix:   "warden:queue:",
	}
}

func (q *RedisQueue) key(service string) string {
	return q.prefix + service
}

func (q *RedisQueue) Enqueue(ctx context.Context, op contracts.QueuedOperation) (bool, error) {
	if err := eligible(op); err != nil {
		return false, err
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return false, fmt.Errorf("serialize queued operation: %w", err)
	}

	res, err := redisBoundedPushScript.Run(ctx, q.client, []string{q.key(op.Request.Service)}, q.capacity, payload).Result()
	if err != nil {
		return false, fmt.Errorf("redis queue push: %w", err)
	}

	pushed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return pushed == 1, nil
}

func (q *RedisQueue) Drain(ctx context.Context, service string, maxItems int) ([]contracts.QueuedOperation, error) {
	if maxItems <= 0 {
		maxItems = q.capacity
	}

	raw, err := q.client.LPopCount(ctx, q.key(service), maxItems).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis queue pop: %w", err)
	}

	out := make([]contracts.QueuedOperation, 0, len(raw))
	for _, item := range raw {
		var op contracts.QueuedOperation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			return out, fmt.Errorf("deserialize queued operation: %w", err)
		}
		out = append(out, op)
	}
	return out, nil
}

func (q *RedisQueue) Size(ctx context.Context, service string) (int, error) {
	n, err := q.client.LLen(ctx, q.key(service)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis queue len: %w", err)
	}
	return int(n), nil
}
