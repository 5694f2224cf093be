package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotHeld = errors.New("queue lock not held")

// RedisSignalQueue is a FIFO list per bot: RPUSH to enqueue, BLPOP to consume.
type RedisSignalQueue struct {
	client *redis.Client
}

func NewRedisSignalQueue(client *redis.Client) *RedisSignalQueue {
	return &RedisSignalQueue{client: client}
}

func (q *RedisSignalQueue) Push(ctx context.Context, botID int64, payload []byte) error {
	if err := q.client.RPush(ctx, QueueKey(botID), payload).Err(); err != nil {
		return fmt.Errorf("push signal: %w", err)
	}
	return nil
}

// Pop blocks up to timeout. It returns (nil, nil) when nothing arrived.
func (q *RedisSignalQueue) Pop(ctx context.Context, botID int64, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BLPop(ctx, timeout, QueueKey(botID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop signal: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("pop signal: unexpected reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

func (q *RedisSignalQueue) Purge(ctx context.Context, botID int64) error {
	return q.client.Del(ctx, QueueKey(botID)).Err()
}

func (q *RedisSignalQueue) Len(ctx context.Context, botID int64) (int64, error) {
	return q.client.LLen(ctx, QueueKey(botID)).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisQueueLock is a SET NX lease that makes one consumer the exclusive reader of a bot queue.
type RedisQueueLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

func NewRedisQueueLock(client *redis.Client, ttl time.Duration) *RedisQueueLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisQueueLock{client: client, ttl: ttl, token: uuid.NewString()}
}

func (l *RedisQueueLock) Acquire(ctx context.Context, botID int64) (bool, error) {
	ok, err := l.client.SetNX(ctx, QueueLockKey(botID), l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire queue lock: %w", err)
	}
	return ok, nil
}

func (l *RedisQueueLock) Refresh(ctx context.Context, botID int64) error {
	n, err := extendScript.Run(ctx, l.client, []string{QueueLockKey(botID)}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh queue lock: %w", err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *RedisQueueLock) Release(ctx context.Context, botID int64) error {
	if err := releaseScript.Run(ctx, l.client, []string{QueueLockKey(botID)}, l.token).Err(); err != nil {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}

func (l *RedisQueueLock) TTL() time.Duration {
	return l.ttl
}
