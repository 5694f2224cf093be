package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSignal(t *testing.T) {
	price := decimal.RequireFromString("64000.50")
	sig := &Signal{
		ID:          "sig-1",
		BotID:       7,
		Action:      ActionBuy,
		Asset:       "btc",
		Size:        decimal.RequireFromString("0.001"),
		LimitPrice:  &price,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
		SizeInQuote: false,
	}
	raw, err := EncodeSignal(sig)
	require.NoError(t, err)

	got, err := DecodeSignal(raw)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", got.ProductID())
	assert.True(t, got.LimitPrice.Equal(price))

	notional, ok := got.Notional()
	assert.True(t, ok)
	assert.True(t, notional.Equal(decimal.RequireFromString("64.0005")))
}

func TestDecodeSignalPoisonEntries(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not json", raw: "1:BUY:ETH"},
		{name: "missing id", raw: `{"action":"BUY","asset":"ETH","size":"1"}`},
		{name: "bad action", raw: `{"id":"x","action":"HOLD","asset":"ETH","size":"1"}`},
		{name: "zero size", raw: `{"id":"x","action":"SELL","asset":"ETH","size":"0"}`},
		{name: "negative limit", raw: `{"id":"x","action":"SELL","asset":"ETH","size":"1","limit_price":"-2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignal([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidSignal)
		})
	}
}

func TestTokenRecordExpiryBuffer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	soon := &TokenRecord{ExpiresAt: now.Unix() + 60}
	assert.True(t, soon.IsExpired(now, 120))

	later := &TokenRecord{ExpiresAt: now.Unix() + 300}
	assert.False(t, later.IsExpired(now, 120))

	edge := &TokenRecord{ExpiresAt: now.Unix() + 120}
	assert.True(t, edge.IsExpired(now, 120))
}

func TestCredentialLockIDIsStable(t *testing.T) {
	rec := &TokenRecord{ID: 42, ExchangeName: "coinbase", UserID: 9}
	assert.Equal(t, rec.LockID(), CredentialLockID(42, "coinbase", 9))
	assert.NotEqual(t, rec.LockID(), CredentialLockID(42, "coinbase", 10))
	assert.NotEqual(t, rec.LockID(), CredentialLockID(43, "coinbase", 9))
}
