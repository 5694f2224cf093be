package strategy

import (
	"context"
	"testing"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	prices []string
	i      int
}

func (s *stubPrices) SpotPrice(context.Context, string) (decimal.Decimal, error) {
	p := decimal.RequireFromString(s.prices[s.i])
	if s.i < len(s.prices)-1 {
		s.i++
	}
	return p, nil
}

func TestAlternating(t *testing.T) {
	s, err := New(config.BotConfig{Strategy: "alternating", AssetTypes: []string{"USD", "ETH"}}, nil)
	require.NoError(t, err)

	var actions []model.Action
	for i := 0; i < 3; i++ {
		sig, err := s.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ETH", sig.Asset)
		assert.NoError(t, sig.Validate())
		actions = append(actions, sig.Action)
	}
	assert.Equal(t, []model.Action{model.ActionBuy, model.ActionSell, model.ActionBuy}, actions)
}

func TestThreshold(t *testing.T) {
	prices := &stubPrices{prices: []string{"150", "90", "80", "120", "210", "220", "95"}}
	s, err := New(config.BotConfig{
		Strategy: "threshold",
		Params:   map[string]string{"asset": "SOL", "buy_below": "100", "sell_above": "200", "size": "25"},
	}, prices)
	require.NoError(t, err)

	var got []string
	for range prices.prices {
		sig, err := s.Next(context.Background())
		require.NoError(t, err)
		if sig == nil {
			got = append(got, "-")
			continue
		}
		got = append(got, string(sig.Action))
	}
	assert.Equal(t, []string{"-", "BUY", "-", "-", "SELL", "-", "BUY"}, got)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.BotConfig{Strategy: "martingale"}, nil)
	assert.Error(t, err)

	_, err = New(config.BotConfig{Strategy: "threshold", Params: map[string]string{"buy_below": "300", "sell_above": "200"}}, &stubPrices{})
	assert.Error(t, err)

	_, err = New(config.BotConfig{Strategy: "threshold", Params: map[string]string{"buy_below": "100", "sell_above": "200"}}, nil)
	assert.Error(t, err)
}
