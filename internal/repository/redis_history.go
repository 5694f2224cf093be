package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisSignalHistory keeps the recent signals of each bot with their per-user executions.
// Records live under bot{id}:signal:{sid}; bot{id}:signal_history lists ids, newest first.
type RedisSignalHistory struct {
	client *redis.Client
	max    int64
}

func NewRedisSignalHistory(client *redis.Client, max int) *RedisSignalHistory {
	if max <= 0 {
		max = 100
	}
	return &RedisSignalHistory{client: client, max: int64(max)}
}

func (h *RedisSignalHistory) Record(ctx context.Context, rec *model.SignalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	botID := rec.Signal.BotID
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, SignalKey(botID, rec.Signal.ID), payload, 0)
	pipe.LPush(ctx, HistoryKey(botID), rec.Signal.ID)
	overflow := pipe.LRange(ctx, HistoryKey(botID), h.max, -1)
	pipe.LTrim(ctx, HistoryKey(botID), 0, h.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record signal: %w", err)
	}
	// Drop the bodies of signals that fell off the list.
	if dropped := overflow.Val(); len(dropped) > 0 {
		keys := make([]string, len(dropped))
		for i, id := range dropped {
			keys[i] = SignalKey(botID, id)
		}
		if err := h.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("evict signal records: %w", err)
		}
	}
	return nil
}

// Update overwrites an existing record. SET XX keeps records trimmed out of the list from coming back.
func (h *RedisSignalHistory) Update(ctx context.Context, rec *model.SignalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := h.client.SetXX(ctx, SignalKey(rec.Signal.BotID, rec.Signal.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("update signal: %w", err)
	}
	return nil
}

func (h *RedisSignalHistory) Get(ctx context.Context, botID int64, signalID string) (*model.SignalRecord, error) {
	raw, err := h.client.Get(ctx, SignalKey(botID, signalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec model.SignalRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode signal record: %w", err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest first.
func (h *RedisSignalHistory) Recent(ctx context.Context, botID int64, limit int) ([]model.SignalRecord, error) {
	if limit <= 0 || int64(limit) > h.max {
		limit = int(h.max)
	}
	ids, err := h.client.LRange(ctx, HistoryKey(botID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = SignalKey(botID, id)
	}
	vals, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.SignalRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.SignalRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
