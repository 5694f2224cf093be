package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
)

var (
	ErrStateMismatch = errors.New("oauth state mismatch")
	ErrCodeExchange  = errors.New("authorization code exchange failed")
)

const DefaultStateTTL = 10 * time.Minute

type OAuthStateRepo interface {
	Replace(ctx context.Context, st *model.OAuthState) error
	Consume(ctx context.Context, state string, userID int64, notBefore time.Time) (bool, error)
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// LinkService runs the authorization-code flow that links a user to an exchange.
type LinkService struct {
	states   OAuthStateRepo
	broker   *TokenBroker
	registry *exchange.Registry
	stateTTL time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewLinkService(states OAuthStateRepo, broker *TokenBroker, registry *exchange.Registry, log *slog.Logger) *LinkService {
	if log == nil {
		log = logger.Discard()
	}
	return &LinkService{
		states:   states,
		broker:   broker,
		registry: registry,
		stateTTL: DefaultStateTTL,
		log:      log.With("component", "link_service"),
		now:      time.Now,
	}
}

// StartLink records a fresh state for the user, superseding earlier attempts,
// and returns the exchange authorization URL together with the state the
// client must keep.
func (s *LinkService) StartLink(ctx context.Context, userID int64, exchangeName string) (string, string, error) {
	provider, err := s.registry.Get(exchangeName)
	if err != nil {
		return "", "", err
	}
	state, err := newState()
	if err != nil {
		return "", "", err
	}
	if err := s.states.Replace(ctx, &model.OAuthState{State: state, UserID: userID, CreatedAt: s.now().UTC()}); err != nil {
		return "", "", err
	}
	return provider.AuthorizeURL(state), state, nil
}

// CompleteLink validates the state round trip and stores the exchanged tokens.
// Nothing is stored unless every check passes.
func (s *LinkService) CompleteLink(ctx context.Context, userID int64, exchangeName, code, queryState, cookieState string) error {
	provider, err := s.registry.Get(exchangeName)
	if err != nil {
		return err
	}
	if queryState == "" || cookieState == "" ||
		subtle.ConstantTimeCompare([]byte(queryState), []byte(cookieState)) != 1 {
		return ErrStateMismatch
	}
	ok, err := s.states.Consume(ctx, queryState, userID, s.now().Add(-s.stateTTL))
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateMismatch
	}
	if code == "" {
		return fmt.Errorf("%w: missing code", ErrCodeExchange)
	}

	set, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		s.log.Warn("code exchange failed", "user_id", userID, "exchange", exchangeName, "error", err)
		return fmt.Errorf("%w: %v", ErrCodeExchange, err)
	}
	if err := s.broker.Store(ctx, userID, exchangeName, set); err != nil {
		return err
	}
	s.log.Info("exchange linked", "user_id", userID, "exchange", exchangeName)
	return nil
}

// Unlink removes the user's stored credential for the exchange.
func (s *LinkService) Unlink(ctx context.Context, userID int64, exchangeName string) error {
	if _, err := s.registry.Get(exchangeName); err != nil {
		return err
	}
	if err := s.broker.Unlink(ctx, userID, exchangeName); err != nil {
		return err
	}
	s.log.Info("exchange unlinked", "user_id", userID, "exchange", exchangeName)
	return nil
}

// SweepStates deletes abandoned authorization attempts every interval until ctx is done.
func (s *LinkService) SweepStates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.states.Cleanup(ctx, s.stateTTL); err != nil && ctx.Err() == nil {
				s.log.Warn("oauth state cleanup failed", "error", err)
			}
		}
	}
}

func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
