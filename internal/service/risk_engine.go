package service

import (
	"context"
	"fmt"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	ReasonMaxValue     = "max_value"
	ReasonTradingHours = "trading_hours"
	ReasonRateLimit    = "rate_limit"
	ReasonCooldown     = "cooldown"
	ReasonImbalance    = "imbalance"
)

type HistoryReader interface {
	Recent(ctx context.Context, botID int64, limit int) ([]model.SignalRecord, error)
}

// RiskGate decides whether a bot signal may be fanned out. Rejections are
// *apperrors.AppError of type RISK_REJECT carrying the rule in Reason.
type RiskGate struct {
	cfg     config.RiskConfig
	history HistoryReader
	now     func() time.Time
	loc     *time.Location
}

func NewRiskGate(cfg config.RiskConfig, history HistoryReader) *RiskGate {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 20
	}
	return &RiskGate{cfg: cfg, history: history, now: time.Now, loc: time.Local}
}

// CheckSignal runs every rule in order. The signal itself is excluded from the
// history it is judged against, as are signals the gate rejected earlier.
func (g *RiskGate) CheckSignal(ctx context.Context, sig *model.Signal) error {
	if !g.cfg.Enabled {
		return nil
	}
	now := g.now()

	// 1. Single order value
	if g.cfg.MaxOrderValue > 0 {
		if notional, ok := sig.Notional(); ok {
			limit := decimal.NewFromFloat(g.cfg.MaxOrderValue)
			if notional.GreaterThan(limit) {
				return reject(ReasonMaxValue, fmt.Sprintf("order value %s exceeds limit %s", notional, limit))
			}
		}
	}

	// 2. Trading hours window
	if g.cfg.TradingHoursStart != g.cfg.TradingHoursEnd && !g.inTradingHours(now) {
		return reject(ReasonTradingHours, fmt.Sprintf("outside trading hours %02d:00-%02d:00",
			g.cfg.TradingHoursStart, g.cfg.TradingHoursEnd))
	}

	if g.history == nil {
		return nil
	}
	records, err := g.history.Recent(ctx, sig.BotID, g.cfg.Lookback+1)
	if err != nil {
		return fmt.Errorf("risk check failed: %w", err)
	}
	accepted := make([]model.SignalRecord, 0, len(records))
	for _, r := range records {
		if r.Signal.ID == sig.ID || r.Status == model.StatusRejected {
			continue
		}
		accepted = append(accepted, r)
	}
	if len(accepted) > g.cfg.Lookback {
		accepted = accepted[:g.cfg.Lookback]
	}

	// 3. Trades per rolling hour
	if g.cfg.MaxTradesPerHour > 0 {
		hourAgo := now.Add(-time.Hour)
		n := 0
		for _, r := range accepted {
			if r.Signal.CreatedAt.After(hourAgo) {
				n++
			}
		}
		if n >= g.cfg.MaxTradesPerHour {
			return reject(ReasonRateLimit, fmt.Sprintf("%d trades in the last hour (max %d)", n, g.cfg.MaxTradesPerHour))
		}
	}

	// 4. Cooldown since the last accepted signal
	if g.cfg.MinInterval > 0 && len(accepted) > 0 {
		since := now.Sub(accepted[0].Signal.CreatedAt)
		if since < g.cfg.MinInterval {
			return reject(ReasonCooldown, fmt.Sprintf("last trade %s ago (min %s)", since.Round(time.Second), g.cfg.MinInterval))
		}
	}

	// 5. Directional balance
	if g.cfg.MaxImbalance > 0 {
		net := 0
		for _, r := range append(accepted, model.SignalRecord{Signal: *sig}) {
			if r.Signal.Action == model.ActionBuy {
				net++
			} else {
				net--
			}
		}
		if net > g.cfg.MaxImbalance || -net > g.cfg.MaxImbalance {
			return reject(ReasonImbalance, fmt.Sprintf("buy/sell imbalance %d exceeds %d", net, g.cfg.MaxImbalance))
		}
	}

	return nil
}

func (g *RiskGate) inTradingHours(now time.Time) bool {
	h := now.In(g.loc).Hour()
	start, end := g.cfg.TradingHoursStart, g.cfg.TradingHoursEnd
	if start < end {
		return h >= start && h < end
	}
	// window wraps midnight
	return h >= start || h < end
}

func reject(reason, msg string) error {
	metrics.RiskRejects.WithLabelValues(reason).Inc()
	return apperrors.NewRiskReject(reason, "risk reject: "+msg)
}
