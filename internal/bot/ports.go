package bot

import (
	"context"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
)

type Queue interface {
	Push(ctx context.Context, botID int64, payload []byte) error
	Pop(ctx context.Context, botID int64, timeout time.Duration) ([]byte, error)
	Purge(ctx context.Context, botID int64) error
}

// QueueLock makes one processor the exclusive consumer of a bot queue.
type QueueLock interface {
	Acquire(ctx context.Context, botID int64) (bool, error)
	Refresh(ctx context.Context, botID int64) error
	Release(ctx context.Context, botID int64) error
	TTL() time.Duration
}

type History interface {
	Record(ctx context.Context, rec *model.SignalRecord) error
	Update(ctx context.Context, rec *model.SignalRecord) error
	Recent(ctx context.Context, botID int64, limit int) ([]model.SignalRecord, error)
}

type TokenSource interface {
	GetAccessToken(ctx context.Context, userID int64, exchange string) (string, error)
}

type Subscribers interface {
	ListByBot(ctx context.Context, botID int64) ([]model.Subscription, error)
}

type RiskChecker interface {
	CheckSignal(ctx context.Context, sig *model.Signal) error
}
