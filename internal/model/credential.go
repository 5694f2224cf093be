package model

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// TokenRecord holds one user's delegated OAuth tokens for one exchange.
// Tokens are stored encrypted; plaintext never reaches the database.
type TokenRecord struct {
	ID                 int64  `gorm:"primaryKey" json:"id"`
	UserID             int64  `gorm:"not null;uniqueIndex:idx_exchange_tokens_user_exchange,priority:1" json:"user_id"`
	ExchangeName       string `gorm:"not null;uniqueIndex:idx_exchange_tokens_user_exchange,priority:2" json:"exchange_name"`
	AccessTokenCipher  []byte `gorm:"column:access_token;not null" json:"-"`
	RefreshTokenCipher []byte `gorm:"column:refresh_token;not null" json:"-"`
	Scope              string `gorm:"not null;default:''" json:"scope"`
	ExpiresAt          int64  `gorm:"not null" json:"expires_at"` // unix seconds
	RefreshAttempts    int    `gorm:"not null;default:0" json:"refresh_attempts"`
	// RefreshFailures counts failed refresh calls and is never reset. Waiters compare it
	// against the value they read before queueing on the lock.
	RefreshFailures int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

func (TokenRecord) TableName() string {
	return "exchange_tokens"
}

// IsExpired treats the token as expired bufferSeconds before its literal expiry.
func (r *TokenRecord) IsExpired(now time.Time, bufferSeconds int64) bool {
	return now.Unix() >= r.ExpiresAt-bufferSeconds
}

// LockID derives the advisory lock key from the record identity, exchange and owner.
// The first 8 bytes of SHA-256 are read as an unsigned integer and reinterpreted as
// the signed bigint Postgres advisory locks take.
func (r *TokenRecord) LockID() int64 {
	return CredentialLockID(r.ID, r.ExchangeName, r.UserID)
}

func CredentialLockID(recordID int64, exchangeName string, userID int64) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s%d", recordID, exchangeName, userID)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Clone returns a deep copy; memory stores hand out copies so callers cannot alias state.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AccessTokenCipher = append([]byte(nil), r.AccessTokenCipher...)
	cp.RefreshTokenCipher = append([]byte(nil), r.RefreshTokenCipher...)
	return &cp
}

// OAuthState is one in-flight authorization attempt.
type OAuthState struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	State     string    `gorm:"not null;uniqueIndex" json:"state"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (OAuthState) TableName() string {
	return "oauth_states"
}
