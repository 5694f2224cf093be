package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/shopspring/decimal"
)

// Strategy produces trade intents for one bot. Next returns (nil, nil) when
// there is nothing to do this cycle. The generator stamps id, bot and time.
type Strategy interface {
	Name() string
	Next(ctx context.Context) (*model.Signal, error)
}

type PriceSource interface {
	SpotPrice(ctx context.Context, productID string) (decimal.Decimal, error)
}

// New builds the strategy named in the bot config.
func New(cfg config.BotConfig, prices PriceSource) (Strategy, error) {
	p := params(cfg.Params)
	switch strings.ToLower(cfg.Strategy) {
	case "", "alternating":
		return NewAlternating(p.str("asset", firstAsset(cfg)), p.str("quote", "USD"),
			p.dec("size", decimal.NewFromInt(10)), p.flag("size_in_quote", true)), nil
	case "threshold":
		buyBelow, sellAbove := p.dec("buy_below", decimal.Zero), p.dec("sell_above", decimal.Zero)
		if !buyBelow.IsPositive() || !sellAbove.IsPositive() || !buyBelow.LessThan(sellAbove) {
			return nil, fmt.Errorf("threshold strategy needs 0 < buy_below < sell_above")
		}
		if prices == nil {
			return nil, fmt.Errorf("threshold strategy needs a price source")
		}
		return NewThreshold(prices, p.str("asset", firstAsset(cfg)), p.str("quote", "USD"),
			p.dec("size", decimal.NewFromInt(10)), p.flag("size_in_quote", true), buyBelow, sellAbove), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func firstAsset(cfg config.BotConfig) string {
	for _, a := range cfg.AssetTypes {
		if !strings.EqualFold(a, "USD") {
			return strings.ToUpper(a)
		}
	}
	return "BTC"
}

type params map[string]string

func (p params) str(key, def string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return def
}

func (p params) dec(key string, def decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(p[key])); err == nil {
		return d
	}
	return def
}

func (p params) flag(key string, def bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(p[key])); err == nil {
		return b
	}
	return def
}
