package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
	"gorm.io/gorm"
)

type PostgresSubscriptionRepo struct {
	db *gorm.DB
}

func NewPostgresSubscriptionRepo(db *gorm.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// Create fails with ErrPortfolioInUse when the portfolio already backs a subscription.
// The unique index is the final arbiter; the pre-check only produces a clean error.
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("portfolio_uuid = ?", sub.PortfolioUUID).Count(&count).Error; err != nil {
		return fmt.Errorf("check portfolio: %w", err)
	}
	if count > 0 {
		return ErrPortfolioInUse
	}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPortfolioInUse
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, userID, id int64) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.Subscription{})
	if res.Error != nil {
		return fmt.Errorf("delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSubscriptionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&subs).Error
	return subs, err
}

func (r *PostgresSubscriptionRepo) ListByBot(ctx context.Context, botID int64) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Where("bot_id = ?", botID).Order("id").Find(&subs).Error
	return subs, err
}

type MemorySubscriptionStore struct {
	mu     sync.RWMutex
	nextID int64
	subs   []model.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{}
}

func (s *MemorySubscriptionStore) Create(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subs {
		if existing.PortfolioUUID == sub.PortfolioUUID {
			return ErrPortfolioInUse
		}
	}
	s.nextID++
	sub.ID = s.nextID
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.subs = append(s.subs, *sub)
	return nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.ID == id && sub.UserID == userID {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemorySubscriptionStore) ListByUser(_ context.Context, userID int64) ([]model.Subscription, error) {
	return s.filter(func(sub model.Subscription) bool { return sub.UserID == userID }), nil
}

func (s *MemorySubscriptionStore) ListByBot(_ context.Context, botID int64) ([]model.Subscription, error) {
	return s.filter(func(sub model.Subscription) bool { return sub.BotID == botID }), nil
}

func (s *MemorySubscriptionStore) filter(keep func(model.Subscription) bool) []model.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Subscription
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	return out
}
