package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/shopspring/decimal"
)

// Threshold buys when the spot price drops below buyBelow and sells when it
// rises above sellAbove. It does not repeat the same side twice in a row.
type Threshold struct {
	prices      PriceSource
	asset       string
	quote       string
	size        decimal.Decimal
	sizeInQuote bool
	buyBelow    decimal.Decimal
	sellAbove   decimal.Decimal

	last model.Action
}

func NewThreshold(prices PriceSource, asset, quote string, size decimal.Decimal, sizeInQuote bool, buyBelow, sellAbove decimal.Decimal) *Threshold {
	return &Threshold{
		prices:      prices,
		asset:       asset,
		quote:       quote,
		size:        size,
		sizeInQuote: sizeInQuote,
		buyBelow:    buyBelow,
		sellAbove:   sellAbove,
	}
}

func (t *Threshold) Name() string { return "threshold_" + t.asset }

func (t *Threshold) Next(ctx context.Context) (*model.Signal, error) {
	product := strings.ToUpper(t.asset) + "-" + strings.ToUpper(t.quote)
	price, err := t.prices.SpotPrice(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("spot price %s: %w", product, err)
	}

	var action model.Action
	switch {
	case price.LessThan(t.buyBelow):
		action = model.ActionBuy
	case price.GreaterThan(t.sellAbove):
		action = model.ActionSell
	default:
		return nil, nil
	}
	if action == t.last {
		return nil, nil
	}
	t.last = action

	return &model.Signal{
		Action:        action,
		Asset:         t.asset,
		QuoteCurrency: t.quote,
		Size:          t.size,
		SizeInQuote:   t.sizeInQuote,
		Reason:        fmt.Sprintf("spot %s %s", product, price),
	}, nil
}
