package repository

import (
	"context"
	"fmt"

	"github.com/coinpilot/coinpilot/internal/model"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialTx is the view of the credential table available while the
// per-credential advisory lock is held.
type CredentialTx interface {
	Get(ctx context.Context, userID int64, exchange string) (*model.TokenRecord, error)
	SaveTokens(ctx context.Context, rec *model.TokenRecord) error
	Delete(ctx context.Context, recordID int64) error
	RecordRefreshFailure(ctx context.Context, recordID int64) error
}

type PostgresCredentialRepo struct {
	db *gorm.DB
	// holders caps concurrent lock transactions so that each holder can still
	// get a second pooled connection for IncrementRefreshAttempts.
	holders *semaphore.Weighted
}

func NewPostgresCredentialRepo(db *gorm.DB) *PostgresCredentialRepo {
	r := &PostgresCredentialRepo{db: db}
	if sqlDB, err := db.DB(); err == nil {
		if n := lockHolderLimit(sqlDB.Stats().MaxOpenConnections); n > 0 {
			r.holders = semaphore.NewWeighted(n)
		}
	}
	return r
}

// lockHolderLimit returns how many lock transactions may be open at once for a
// pool of maxOpen connections, or 0 when the pool is unbounded.
func lockHolderLimit(maxOpen int) int64 {
	if maxOpen <= 0 {
		return 0
	}
	if maxOpen < 2 {
		return 1
	}
	return int64(maxOpen / 2)
}

func (r *PostgresCredentialRepo) Get(ctx context.Context, userID int64, exchange string) (*model.TokenRecord, error) {
	return getCredential(r.db.WithContext(ctx), userID, exchange)
}

// Upsert stores a freshly linked credential. Relinking replaces the tokens and
// clears the refresh attempt counter.
func (r *PostgresCredentialRepo) Upsert(ctx context.Context, rec *model.TokenRecord) error {
	rec.RefreshAttempts = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "exchange_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "scope", "expires_at", "refresh_attempts",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (r *PostgresCredentialRepo) DeleteByUser(ctx context.Context, userID int64, exchange string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND exchange_name = ?", userID, exchange).
		Delete(&model.TokenRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete credential: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRefreshAttempts commits on its own pooled connection, outside any
// lock transaction, so the count survives a crash mid-refresh.
func (r *PostgresCredentialRepo) IncrementRefreshAttempts(ctx context.Context, recordID int64) (int, error) {
	var rec model.TokenRecord
	res := r.db.WithContext(ctx).Model(&rec).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "refresh_attempts"}}}).
		Where("id = ?", recordID).
		UpdateColumn("refresh_attempts", gorm.Expr("refresh_attempts + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("increment refresh attempts: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	return rec.RefreshAttempts, nil
}

// WithLock runs fn inside a transaction holding pg_advisory_xact_lock(lockID).
// The lock is released on commit, rollback or connection loss.
func (r *PostgresCredentialRepo) WithLock(ctx context.Context, lockID int64, fn func(tx CredentialTx) error) error {
	if r.holders != nil {
		if err := r.holders.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("wait for credential lock slot: %w", err)
		}
		defer r.holders.Release(1)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lockID).Error; err != nil {
			return fmt.Errorf("acquire credential lock: %w", err)
		}
		return fn(&pgCredentialTx{db: tx})
	})
}

type pgCredentialTx struct {
	db *gorm.DB
}

func (t *pgCredentialTx) Get(ctx context.Context, userID int64, exchange string) (*model.TokenRecord, error) {
	return getCredential(t.db.WithContext(ctx), userID, exchange)
}

func (t *pgCredentialTx) SaveTokens(ctx context.Context, rec *model.TokenRecord) error {
	rec.RefreshAttempts = 0
	res := t.db.WithContext(ctx).Model(&model.TokenRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"access_token":     rec.AccessTokenCipher,
			"refresh_token":    rec.RefreshTokenCipher,
			"scope":            rec.Scope,
			"expires_at":       rec.ExpiresAt,
			"refresh_attempts": 0,
		})
	if res.Error != nil {
		return fmt.Errorf("save refreshed tokens: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgCredentialTx) RecordRefreshFailure(ctx context.Context, recordID int64) error {
	res := t.db.WithContext(ctx).Model(&model.TokenRecord{}).
		Where("id = ?", recordID).
		UpdateColumn("refresh_failures", gorm.Expr("refresh_failures + 1"))
	if res.Error != nil {
		return fmt.Errorf("record refresh failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgCredentialTx) Delete(ctx context.Context, recordID int64) error {
	if err := t.db.WithContext(ctx).Delete(&model.TokenRecord{}, recordID).Error; err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func getCredential(db *gorm.DB, userID int64, exchange string) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	err := db.Where("user_id = ? AND exchange_name = ?", userID, exchange).Take(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}
