package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		// BLPOP blocks for the pop timeout; reads must outlast it.
		ReadTimeout: cfg.Queue.PopTimeout + 5*time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}

func QueueKey(botID int64) string {
	return fmt.Sprintf("bot%d_queue", botID)
}

func QueueLockKey(botID int64) string {
	return fmt.Sprintf("bot%d_queue:lock", botID)
}

func HistoryKey(botID int64) string {
	return fmt.Sprintf("bot%d:signal_history", botID)
}

func SignalKey(botID int64, signalID string) string {
	return fmt.Sprintf("bot%d:signal:%s", botID, signalID)
}
