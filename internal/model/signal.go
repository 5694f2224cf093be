package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is an immutable trade instruction emitted by a bot strategy.
// Size is in quote currency when SizeInQuote is set, otherwise in the base asset.
type Signal struct {
	ID            string           `json:"id"`
	BotID         int64            `json:"bot_id"`
	Action        Action           `json:"action"`
	Asset         string           `json:"asset"`
	QuoteCurrency string           `json:"quote_currency"`
	Size          decimal.Decimal  `json:"size"`
	SizeInQuote   bool             `json:"size_in_quote"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ProductID is the exchange product, e.g. BTC-USD.
func (s *Signal) ProductID() string {
	quote := s.QuoteCurrency
	if quote == "" {
		quote = "USD"
	}
	return strings.ToUpper(s.Asset) + "-" + strings.ToUpper(quote)
}

// Notional returns the order value in quote currency when it can be known up front.
func (s *Signal) Notional() (decimal.Decimal, bool) {
	if s.SizeInQuote {
		return s.Size, true
	}
	if s.LimitPrice != nil {
		return s.Size.Mul(*s.LimitPrice), true
	}
	return decimal.Zero, false
}

func (s *Signal) Validate() error {
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("%w: action %q", ErrInvalidSignal, s.Action)
	}
	if strings.TrimSpace(s.Asset) == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidSignal)
	}
	if !s.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidSignal)
	}
	if s.LimitPrice != nil && !s.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limit price must be positive", ErrInvalidSignal)
	}
	return nil
}

func EncodeSignal(s *Signal) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// DecodeSignal parses a queue entry. Any malformed entry is reported as ErrInvalidSignal.
func DecodeSignal(raw []byte) (*Signal, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty entry", ErrInvalidSignal)
	}
	var s Signal
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidSignal)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
