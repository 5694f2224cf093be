package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
	"gorm.io/gorm"
)

type PostgresOAuthStateRepo struct {
	db *gorm.DB
}

func NewPostgresOAuthStateRepo(db *gorm.DB) *PostgresOAuthStateRepo {
	return &PostgresOAuthStateRepo{db: db}
}

// Replace drops any pending state for the user and records a new one.
func (r *PostgresOAuthStateRepo) Replace(ctx context.Context, st *model.OAuthState) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", st.UserID).Delete(&model.OAuthState{}).Error; err != nil {
			return fmt.Errorf("clear oauth state: %w", err)
		}
		if err := tx.Create(st).Error; err != nil {
			return fmt.Errorf("create oauth state: %w", err)
		}
		return nil
	})
}

// Consume deletes the state if it belongs to the user and is newer than notBefore.
// It reports whether a row was consumed; a state can be consumed at most once.
func (r *PostgresOAuthStateRepo) Consume(ctx context.Context, state string, userID int64, notBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("state = ? AND user_id = ? AND created_at >= ?", state, userID, notBefore).
		Delete(&model.OAuthState{})
	if res.Error != nil {
		return false, fmt.Errorf("consume oauth state: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresOAuthStateRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.OAuthState{}).Error
}

type MemoryOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]model.OAuthState
}

func NewMemoryOAuthStateStore() *MemoryOAuthStateStore {
	return &MemoryOAuthStateStore{states: make(map[string]model.OAuthState)}
}

func (s *MemoryOAuthStateStore) Replace(_ context.Context, st *model.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if v.UserID == st.UserID {
			delete(s.states, k)
		}
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.states[st.State] = *st
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string, userID int64, notBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok || st.UserID != userID || st.CreatedAt.Before(notBefore) {
		return false, nil
	}
	delete(s.states, state)
	return true, nil
}

func (s *MemoryOAuthStateStore) Cleanup(_ context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if v.CreatedAt.Before(cutoff) {
			delete(s.states, k)
		}
	}
	return nil
}
