package service

import (
	"context"
	"testing"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountsRequireLink(t *testing.T) {
	f := newBrokerFixture(t)
	svc := NewAccountService(f.broker, exchange.NewRegistry(f.ex))

	_, err := svc.Accounts(context.Background(), 1, "coinbase")
	assert.ErrorIs(t, err, ErrTokenAbsent)

	f.link(t, 1, time.Hour)
	accounts, err := svc.Accounts(context.Background(), 1, "coinbase")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "USD", accounts[0].Currency)
}

func TestPortfoliosSkipDeleted(t *testing.T) {
	f := newBrokerFixture(t)
	f.ex.portfolios = []exchange.Portfolio{{UUID: "a"}, {UUID: "b", Deleted: true}, {UUID: "c"}}
	svc := NewAccountService(f.broker, exchange.NewRegistry(f.ex))
	f.link(t, 1, time.Hour)

	got, err := svc.Portfolios(context.Background(), 1, "coinbase")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].UUID)
	assert.Equal(t, "c", got[1].UUID)
}

func TestAccountsUnknownExchange(t *testing.T) {
	f := newBrokerFixture(t)
	svc := NewAccountService(f.broker, exchange.NewRegistry(f.ex))
	_, err := svc.Accounts(context.Background(), 1, "kraken")
	assert.ErrorIs(t, err, exchange.ErrUnknownExchange)
}
