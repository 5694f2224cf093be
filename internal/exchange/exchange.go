package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrInvalidGrant means the exchange rejected the refresh token itself.
	ErrInvalidGrant = errors.New("invalid grant")
)

// TokenSet is what the exchange returns from a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// OAuthProvider performs the delegated-authorization side of an exchange.
type OAuthProvider interface {
	Name() string
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)
}

type OrderRequest struct {
	ClientOrderID string
	ProductID     string
	Side          model.Action
	Size          decimal.Decimal
	SizeInQuote   bool
	LimitPrice    *decimal.Decimal
	PortfolioUUID string
}

type OrderResult struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type Account struct {
	UUID      string          `json:"uuid"`
	Name      string          `json:"name"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Hold      decimal.Decimal `json:"hold"`
}

type Portfolio struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Deleted bool   `json:"deleted"`
}

// Position is one asset held in a portfolio.
type Position struct {
	Asset       string          `json:"asset"`
	TotalCrypto decimal.Decimal `json:"total_crypto"`
	TotalFiat   decimal.Decimal `json:"total_fiat"`
}

// Trader is the brokerage API, called with a user's access token.
type Trader interface {
	PlaceOrder(ctx context.Context, accessToken string, req OrderRequest) (*OrderResult, error)
	ListAccounts(ctx context.Context, accessToken string) ([]Account, error)
	ListPortfolios(ctx context.Context, accessToken string) ([]Portfolio, error)
	PortfolioPositions(ctx context.Context, accessToken, portfolioUUID string) ([]Position, error)
	SpotPrice(ctx context.Context, productID string) (decimal.Decimal, error)
}

// Exchange bundles both sides of one venue.
type Exchange interface {
	OAuthProvider
	Trader
}

// Registry resolves exchanges by name. It is built at startup and passed explicitly.
type Registry struct {
	mu        sync.RWMutex
	exchanges map[string]Exchange
}

func NewRegistry(exchanges ...Exchange) *Registry {
	r := &Registry{exchanges: make(map[string]Exchange)}
	for _, ex := range exchanges {
		r.Register(ex)
	}
	return r
}

func (r *Registry) Register(ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[ex.Name()] = ex
}

func (r *Registry) Get(name string) (Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exchanges[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	return ex, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exchanges))
	for name := range r.exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
