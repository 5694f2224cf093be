package service

import (
	"context"
	"fmt"

	"github.com/coinpilot/coinpilot/internal/exchange"
)

// AccountService reads a linked user's exchange accounts with broker-issued tokens.
type AccountService struct {
	broker   *TokenBroker
	registry *exchange.Registry
}

func NewAccountService(broker *TokenBroker, registry *exchange.Registry) *AccountService {
	return &AccountService{broker: broker, registry: registry}
}

// Accounts returns ErrTokenAbsent or ErrTokenRefreshFailed when the user has no usable link.
func (s *AccountService) Accounts(ctx context.Context, userID int64, exchangeName string) ([]exchange.Account, error) {
	ex, err := s.registry.Get(exchangeName)
	if err != nil {
		return nil, err
	}
	token, err := s.broker.GetAccessToken(ctx, userID, exchangeName)
	if err != nil {
		return nil, err
	}
	accounts, err := ex.ListAccounts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Portfolios lists the user's non-deleted portfolios, which are the candidates for a subscription.
func (s *AccountService) Portfolios(ctx context.Context, userID int64, exchangeName string) ([]exchange.Portfolio, error) {
	ex, err := s.registry.Get(exchangeName)
	if err != nil {
		return nil, err
	}
	token, err := s.broker.GetAccessToken(ctx, userID, exchangeName)
	if err != nil {
		return nil, err
	}
	all, err := ex.ListPortfolios(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	out := make([]exchange.Portfolio, 0, len(all))
	for _, p := range all {
		if !p.Deleted {
			out = append(out, p)
		}
	}
	return out, nil
}
