package strategy

import (
	"context"
	"sync"

	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/shopspring/decimal"
)

// Alternating flips between BUY and SELL every cycle. It exists to drive the
// order path end to end without market logic.
type Alternating struct {
	asset       string
	quote       string
	size        decimal.Decimal
	sizeInQuote bool

	mu   sync.Mutex
	next model.Action
}

func NewAlternating(asset, quote string, size decimal.Decimal, sizeInQuote bool) *Alternating {
	return &Alternating{asset: asset, quote: quote, size: size, sizeInQuote: sizeInQuote, next: model.ActionBuy}
}

func (a *Alternating) Name() string { return "alternating_" + a.asset }

func (a *Alternating) Next(context.Context) (*model.Signal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	action := a.next
	if action == model.ActionBuy {
		a.next = model.ActionSell
	} else {
		a.next = model.ActionBuy
	}
	return &model.Signal{
		Action:        action,
		Asset:         a.asset,
		QuoteCurrency: a.quote,
		Size:          a.size,
		SizeInQuote:   a.sizeInQuote,
		Reason:        "alternating",
	}, nil
}
