package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/shopspring/decimal"
)

type fakeExchange struct {
	name      string
	refreshes atomic.Int32
	delay     time.Duration

	mu         sync.Mutex
	refreshErr error
	nextAccess string
	positions  map[string][]exchange.Position
	portfolios []exchange.Portfolio
	exchanged  map[string]*exchange.TokenSet
	placeOrder func(token string, req exchange.OrderRequest) (*exchange.OrderResult, error)
	spot       decimal.Decimal
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		name:       "coinbase",
		nextAccess: "fresh-access",
		positions:  map[string][]exchange.Position{},
		exchanged:  map[string]*exchange.TokenSet{},
	}
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) AuthorizeURL(state string) string {
	return "https://exchange.test/oauth/authorize?state=" + state
}

func (f *fakeExchange) ExchangeCode(_ context.Context, code string) (*exchange.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.exchanged[code]
	if !ok {
		return nil, errors.New("bad code")
	}
	return set, nil
}

func (f *fakeExchange) Refresh(ctx context.Context, _ string) (*exchange.TokenSet, error) {
	f.refreshes.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &exchange.TokenSet{
		AccessToken:  f.nextAccess,
		RefreshToken: "fresh-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeExchange) setRefreshErr(err error) {
	f.mu.Lock()
	f.refreshErr = err
	f.mu.Unlock()
}

func (f *fakeExchange) PlaceOrder(_ context.Context, token string, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if f.placeOrder != nil {
		return f.placeOrder(token, req)
	}
	return &exchange.OrderResult{OrderID: "order-" + req.PortfolioUUID, Success: true}, nil
}

func (f *fakeExchange) ListAccounts(context.Context, string) ([]exchange.Account, error) {
	return []exchange.Account{{UUID: "acct-1", Currency: "USD", Available: decimal.NewFromInt(100)}}, nil
}

func (f *fakeExchange) ListPortfolios(context.Context, string) ([]exchange.Portfolio, error) {
	return f.portfolios, nil
}

func (f *fakeExchange) PortfolioPositions(_ context.Context, _ string, portfolioUUID string) ([]exchange.Position, error) {
	return f.positions[portfolioUUID], nil
}

func (f *fakeExchange) SpotPrice(context.Context, string) (decimal.Decimal, error) {
	return f.spot, nil
}
