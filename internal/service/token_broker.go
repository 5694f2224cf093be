package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/crypto"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/coinpilot/coinpilot/internal/repository"
)

var (
	// ErrTokenAbsent means the user has no linked account for the exchange.
	ErrTokenAbsent = errors.New("exchange account not linked")
	// ErrTokenRefreshFailed means a link exists but no valid token could be produced.
	ErrTokenRefreshFailed = errors.New("exchange token refresh failed")
)

type CredentialStore interface {
	Get(ctx context.Context, userID int64, exchange string) (*model.TokenRecord, error)
	Upsert(ctx context.Context, rec *model.TokenRecord) error
	DeleteByUser(ctx context.Context, userID int64, exchange string) error
	IncrementRefreshAttempts(ctx context.Context, recordID int64) (int, error)
	WithLock(ctx context.Context, lockID int64, fn func(tx repository.CredentialTx) error) error
}

// TokenBroker hands out valid access tokens, refreshing them under a
// per-credential lock shared by every process using the same database.
type TokenBroker struct {
	store    CredentialStore
	codec    *crypto.Codec
	registry *exchange.Registry
	cfg      config.BrokerConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewTokenBroker(store CredentialStore, codec *crypto.Codec, registry *exchange.Registry, cfg config.BrokerConfig, log *slog.Logger) *TokenBroker {
	if cfg.ExpiryBufferSeconds <= 0 {
		cfg.ExpiryBufferSeconds = 120
	}
	if cfg.MaxRefreshAttempts <= 0 {
		cfg.MaxRefreshAttempts = 3
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &TokenBroker{
		store:    store,
		codec:    codec,
		registry: registry,
		cfg:      cfg,
		log:      log.With("component", "token_broker"),
		now:      time.Now,
	}
}

// GetAccessToken returns a plaintext access token that is valid beyond the expiry buffer.
// It returns ErrTokenAbsent or ErrTokenRefreshFailed for the two expected outcomes;
// any other error is infrastructure failure.
func (b *TokenBroker) GetAccessToken(ctx context.Context, userID int64, exchangeName string) (string, error) {
	provider, err := b.registry.Get(exchangeName)
	if err != nil {
		return "", err
	}

	rec, err := b.store.Get(ctx, userID, exchangeName)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrTokenAbsent
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	if !rec.IsExpired(b.now(), b.cfg.ExpiryBufferSeconds) {
		metrics.TokenFastPath.WithLabelValues(exchangeName).Inc()
		return b.decryptAccess(rec)
	}

	var (
		token   string
		outcome error
		seen    = rec.RefreshFailures
		waitAt  = time.Now()
	)
	err = b.store.WithLock(ctx, rec.LockID(), func(tx repository.CredentialTx) error {
		metrics.LockWait.WithLabelValues(exchangeName).Observe(time.Since(waitAt).Seconds())

		cur, err := tx.Get(ctx, userID, exchangeName)
		if errors.Is(err, repository.ErrNotFound) {
			outcome = ErrTokenAbsent
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload credential: %w", err)
		}

		// Another holder refreshed while we waited.
		if !cur.IsExpired(b.now(), b.cfg.ExpiryBufferSeconds) {
			metrics.TokenRefreshes.WithLabelValues(exchangeName, "shared").Inc()
			token, err = b.decryptAccess(cur)
			return err
		}

		// A refresh failed after our snapshot, possibly one already in flight
		// when we arrived; share its outcome.
		if cur.RefreshFailures > seen {
			outcome = ErrTokenRefreshFailed
			return nil
		}

		if cur.RefreshAttempts >= b.cfg.MaxRefreshAttempts {
			if err := tx.Delete(ctx, cur.ID); err != nil {
				return err
			}
			metrics.TokenRefreshes.WithLabelValues(exchangeName, "exhausted").Inc()
			b.log.Warn("refresh attempts exhausted, credential removed",
				"user_id", userID, "exchange", exchangeName, "attempts", cur.RefreshAttempts)
			outcome = ErrTokenRefreshFailed
			return nil
		}

		attempts, err := b.store.IncrementRefreshAttempts(ctx, cur.ID)
		if err != nil {
			return err
		}

		refreshToken, err := b.codec.Decrypt(cur.RefreshTokenCipher)
		if err != nil {
			return fmt.Errorf("decrypt refresh token: %w", err)
		}

		rctx, cancel := context.WithTimeout(ctx, b.cfg.RefreshTimeout)
		set, err := provider.Refresh(rctx, refreshToken)
		cancel()
		if err != nil {
			if err := tx.RecordRefreshFailure(ctx, cur.ID); err != nil {
				return err
			}
			metrics.TokenRefreshes.WithLabelValues(exchangeName, "failed").Inc()
			b.log.Warn("token refresh failed",
				"user_id", userID, "exchange", exchangeName, "attempt", attempts, "error", err)
			outcome = ErrTokenRefreshFailed
			return nil
		}

		if err := b.applyTokenSet(cur, set); err != nil {
			return err
		}
		if err := tx.SaveTokens(ctx, cur); err != nil {
			return err
		}
		metrics.TokenRefreshes.WithLabelValues(exchangeName, "refreshed").Inc()
		token = set.AccessToken
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("refresh credential: %w", err)
	}
	if outcome != nil {
		return "", outcome
	}
	return token, nil
}

// Store encrypts and saves a token set obtained from a code exchange.
func (b *TokenBroker) Store(ctx context.Context, userID int64, exchangeName string, set *exchange.TokenSet) error {
	rec := &model.TokenRecord{UserID: userID, ExchangeName: exchangeName}
	if err := b.applyTokenSet(rec, set); err != nil {
		return err
	}
	return b.store.Upsert(ctx, rec)
}

// Unlink removes the user's credential for the exchange.
func (b *TokenBroker) Unlink(ctx context.Context, userID int64, exchangeName string) error {
	err := b.store.DeleteByUser(ctx, userID, exchangeName)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrTokenAbsent
	}
	return err
}

func (b *TokenBroker) applyTokenSet(rec *model.TokenRecord, set *exchange.TokenSet) error {
	access, err := b.codec.Encrypt(set.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	rec.AccessTokenCipher = access
	// Some refresh responses omit the refresh token; the old one stays valid then.
	if set.RefreshToken != "" || len(rec.RefreshTokenCipher) == 0 {
		refresh, err := b.codec.Encrypt(set.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		rec.RefreshTokenCipher = refresh
	}
	if set.Scope != "" {
		rec.Scope = set.Scope
	}
	rec.ExpiresAt = set.ExpiresAt.Unix()
	rec.RefreshAttempts = 0
	return nil
}

func (b *TokenBroker) decryptAccess(rec *model.TokenRecord) (string, error) {
	token, err := b.codec.Decrypt(rec.AccessTokenCipher)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return token, nil
}
