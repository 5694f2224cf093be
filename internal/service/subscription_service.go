package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/repository"
)

var (
	ErrPortfolioNotOwned = errors.New("portfolio not found for this account")
	ErrMissingAssets     = errors.New("portfolio does not hold the assets this bot trades")
)

type BotRepo interface {
	UpsertByName(ctx context.Context, bot *model.Bot) error
	Get(ctx context.Context, id int64) (*model.Bot, error)
	List(ctx context.Context) ([]model.Bot, error)
}

type SubscriptionRepo interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Delete(ctx context.Context, userID, id int64) error
	ListByUser(ctx context.Context, userID int64) ([]model.Subscription, error)
	ListByBot(ctx context.Context, botID int64) ([]model.Subscription, error)
}

type SubscriptionService struct {
	subs     SubscriptionRepo
	bots     BotRepo
	broker   *TokenBroker
	registry *exchange.Registry
	log      *slog.Logger
}

func NewSubscriptionService(subs SubscriptionRepo, bots BotRepo, broker *TokenBroker, registry *exchange.Registry, log *slog.Logger) *SubscriptionService {
	if log == nil {
		log = logger.Discard()
	}
	return &SubscriptionService{
		subs:     subs,
		bots:     bots,
		broker:   broker,
		registry: registry,
		log:      log.With("component", "subscription_service"),
	}
}

// Subscribe binds the user's portfolio to a bot. The portfolio must belong to the
// user, hold every asset the bot trades, and not already back a subscription.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID, botID int64, portfolioUUID string) (*model.Subscription, error) {
	portfolioUUID = strings.TrimSpace(portfolioUUID)
	if portfolioUUID == "" {
		return nil, fmt.Errorf("%w: portfolio uuid is required", ErrPortfolioNotOwned)
	}
	bot, err := s.bots.Get(ctx, botID)
	if err != nil {
		return nil, err
	}
	ex, err := s.registry.Get(bot.Exchange)
	if err != nil {
		return nil, err
	}
	token, err := s.broker.GetAccessToken(ctx, userID, bot.Exchange)
	if err != nil {
		return nil, err
	}

	portfolios, err := ex.ListPortfolios(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}
	owned := false
	for _, p := range portfolios {
		if p.UUID == portfolioUUID && !p.Deleted {
			owned = true
			break
		}
	}
	if !owned {
		return nil, ErrPortfolioNotOwned
	}

	positions, err := ex.PortfolioPositions(ctx, token, portfolioUUID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if missing := missingAssets(bot.AssetTypes, positions); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingAssets, strings.Join(missing, ", "))
	}

	sub := &model.Subscription{UserID: userID, BotID: botID, PortfolioUUID: portfolioUUID}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}
	s.log.Info("subscription created", "user_id", userID, "bot_id", botID, "subscription_id", sub.ID)
	return sub, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, userID, subscriptionID int64) error {
	return s.subs.Delete(ctx, userID, subscriptionID)
}

func (s *SubscriptionService) List(ctx context.Context, userID int64) ([]model.Subscription, error) {
	return s.subs.ListByUser(ctx, userID)
}

func (s *SubscriptionService) ListForBot(ctx context.Context, botID int64) ([]model.Subscription, error) {
	return s.subs.ListByBot(ctx, botID)
}

func (s *SubscriptionService) Bots(ctx context.Context) ([]model.Bot, error) {
	return s.bots.List(ctx)
}

func (s *SubscriptionService) Bot(ctx context.Context, id int64) (*model.Bot, error) {
	return s.bots.Get(ctx, id)
}

func missingAssets(want []string, have []exchange.Position) []string {
	held := make(map[string]bool, len(have))
	for _, p := range have {
		held[strings.ToUpper(p.Asset)] = true
	}
	var missing []string
	for _, a := range want {
		if !held[strings.ToUpper(a)] {
			missing = append(missing, a)
		}
	}
	return missing
}

// IsNotFound reports lookups that found nothing at the storage layer.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
