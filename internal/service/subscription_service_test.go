package service

import (
	"context"
	"testing"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subFixture struct {
	svc  *SubscriptionService
	subs *repository.MemorySubscriptionStore
	bot  *model.Bot
	bf   *brokerFixture
}

func newSubFixture(t *testing.T) *subFixture {
	t.Helper()
	bf := newBrokerFixture(t)
	bots := repository.NewMemoryBotStore()
	bot := &model.Bot{Name: "alternating", Exchange: "coinbase", AssetTypes: []string{"BTC", "USD"}}
	require.NoError(t, bots.UpsertByName(context.Background(), bot))

	bf.ex.portfolios = []exchange.Portfolio{{UUID: "pf-1"}, {UUID: "pf-2"}, {UUID: "pf-gone", Deleted: true}}
	full := []exchange.Position{{Asset: "BTC", TotalCrypto: decimal.NewFromInt(1)}, {Asset: "USD"}}
	bf.ex.positions["pf-1"] = full
	bf.ex.positions["pf-2"] = []exchange.Position{{Asset: "USD"}}

	subs := repository.NewMemorySubscriptionStore()
	svc := NewSubscriptionService(subs, bots, bf.broker, exchange.NewRegistry(bf.ex), nil)
	return &subFixture{svc: svc, subs: subs, bot: bot, bf: bf}
}

func TestSubscribe(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	f.bf.link(t, 1, time.Hour)

	sub, err := f.svc.Subscribe(ctx, 1, f.bot.ID, "pf-1")
	require.NoError(t, err)
	assert.NotZero(t, sub.ID)

	forBot, err := f.svc.ListForBot(ctx, f.bot.ID)
	require.NoError(t, err)
	assert.Len(t, forBot, 1)
}

func TestSubscribePortfolioInUseDoesNotMutate(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	f.bf.link(t, 1, time.Hour)
	f.bf.link(t, 2, time.Hour)

	_, err := f.svc.Subscribe(ctx, 1, f.bot.ID, "pf-1")
	require.NoError(t, err)

	_, err = f.svc.Subscribe(ctx, 2, f.bot.ID, "pf-1")
	assert.ErrorIs(t, err, repository.ErrPortfolioInUse)

	mine, _ := f.svc.List(ctx, 2)
	assert.Empty(t, mine)
	all, _ := f.svc.ListForBot(ctx, f.bot.ID)
	assert.Len(t, all, 1)
}

func TestSubscribeRejections(t *testing.T) {
	tests := []struct {
		name      string
		link      bool
		botID     func(*subFixture) int64
		portfolio string
		want      error
	}{
		{"not linked", false, func(f *subFixture) int64 { return f.bot.ID }, "pf-1", ErrTokenAbsent},
		{"unknown bot", true, func(*subFixture) int64 { return 999 }, "pf-1", repository.ErrNotFound},
		{"foreign portfolio", true, func(f *subFixture) int64 { return f.bot.ID }, "pf-x", ErrPortfolioNotOwned},
		{"deleted portfolio", true, func(f *subFixture) int64 { return f.bot.ID }, "pf-gone", ErrPortfolioNotOwned},
		{"missing assets", true, func(f *subFixture) int64 { return f.bot.ID }, "pf-2", ErrMissingAssets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubFixture(t)
			if tt.link {
				f.bf.link(t, 1, time.Hour)
			}
			_, err := f.svc.Subscribe(context.Background(), 1, tt.botID(f), tt.portfolio)
			assert.ErrorIs(t, err, tt.want)
			subs, _ := f.svc.List(context.Background(), 1)
			assert.Empty(t, subs)
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newSubFixture(t)
	ctx := context.Background()
	f.bf.link(t, 1, time.Hour)
	sub, err := f.svc.Subscribe(ctx, 1, f.bot.ID, "pf-1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Unsubscribe(ctx, 2, sub.ID), repository.ErrNotFound)
	require.NoError(t, f.svc.Unsubscribe(ctx, 1, sub.ID))
	assert.True(t, IsNotFound(f.svc.Unsubscribe(ctx, 1, sub.ID)))
}
