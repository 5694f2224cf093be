package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type ProcessorOptions struct {
	BotID       int64
	Exchange    string
	PopTimeout  time.Duration
	Concurrency int
}

// Processor consumes one bot's queue and fans each signal out to every subscriber.
type Processor struct {
	opts    ProcessorOptions
	queue   Queue
	lock    QueueLock
	history History
	subs    Subscribers
	tokens  TokenSource
	trader  exchange.Trader
	risk    RiskChecker
	log     *slog.Logger
	now     func() time.Time
	label   string
}

func NewProcessor(opts ProcessorOptions, queue Queue, history History, subs Subscribers, tokens TokenSource, trader exchange.Trader, log *slog.Logger) *Processor {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Processor{
		opts:    opts,
		queue:   queue,
		history: history,
		subs:    subs,
		tokens:  tokens,
		trader:  trader,
		log:     log.With("component", "processor", "bot_id", opts.BotID),
		now:     time.Now,
		label:   strconv.FormatInt(opts.BotID, 10),
	}
}

// WithRisk enables the risk gate.
func (p *Processor) WithRisk(r RiskChecker) *Processor {
	p.risk = r
	return p
}

// WithQueueLock turns on the single-consumer guard.
func (p *Processor) WithQueueLock(l QueueLock) *Processor {
	p.lock = l
	return p
}

// Run pops and handles signals until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Info("processor started", "exchange", p.opts.Exchange, "exclusive", p.lock != nil)
	held := false
	defer func() {
		if held {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = p.lock.Release(relCtx, p.opts.BotID)
		}
	}()

	timeout := p.opts.PopTimeout
	if p.lock != nil && p.lock.TTL()/2 < timeout {
		timeout = p.lock.TTL() / 2
	}

	for {
		if ctx.Err() != nil {
			p.log.Info("processor stopped")
			return nil
		}

		if p.lock != nil {
			ok, err := p.holdLock(ctx, held)
			held = ok
			if err != nil {
				p.log.Warn("queue lock error", "error", err)
			}
			if !ok {
				sleep(ctx, timeout)
				continue
			}
		}

		raw, err := p.queue.Pop(ctx, p.opts.BotID, timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error("queue pop failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if raw == nil {
			continue
		}
		if _, err := p.Handle(ctx, raw); err != nil {
			p.log.Warn("signal dropped", "error", err)
		}
	}
}

func (p *Processor) holdLock(ctx context.Context, held bool) (bool, error) {
	if held {
		if err := p.lock.Refresh(ctx, p.opts.BotID); err != nil {
			return false, err
		}
		return true, nil
	}
	return p.lock.Acquire(ctx, p.opts.BotID)
}

// Handle runs one queue entry through risk, fan-out and aggregation. Malformed
// entries return an error and are discarded; every decoded signal reaches a
// terminal status.
func (p *Processor) Handle(ctx context.Context, raw []byte) (*model.SignalRecord, error) {
	sig, err := model.DecodeSignal(raw)
	if err == nil && sig.BotID != 0 && sig.BotID != p.opts.BotID {
		err = fmt.Errorf("%w: signal for bot %d on queue of bot %d", model.ErrInvalidSignal, sig.BotID, p.opts.BotID)
	}
	if err != nil {
		metrics.PoisonEntries.WithLabelValues(p.label).Inc()
		return nil, err
	}
	sig.BotID = p.opts.BotID

	now := p.now().UTC()
	rec := &model.SignalRecord{Signal: *sig, Status: model.StatusPending, CreatedAt: now, UpdatedAt: now}
	if err := p.history.Record(ctx, rec); err != nil {
		p.log.Warn("history record failed", "signal_id", sig.ID, "error", err)
	}
	log := p.log.With("signal_id", sig.ID, "action", sig.Action, "asset", sig.Asset)

	if p.risk != nil {
		if err := p.risk.CheckSignal(ctx, sig); err != nil {
			reason := "risk_check_error"
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) && appErr.Type == apperrors.ErrRiskReject {
				reason = appErr.Reason
			} else {
				log.Error("risk check failed", "error", err)
			}
			log.Info("signal rejected", "reason", reason)
			p.finish(ctx, rec, model.StatusRejected, reason)
			return rec, nil
		}
	}

	subs, err := p.subs.ListByBot(ctx, p.opts.BotID)
	if err != nil {
		log.Error("list subscribers failed", "error", err)
		p.finish(ctx, rec, model.StatusFailed, "subscriber lookup failed")
		return rec, nil
	}
	if len(subs) == 0 {
		p.finish(ctx, rec, model.StatusSkippedNoSubscribers, "")
		return rec, nil
	}

	results := make([]model.Execution, len(subs))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = p.execute(ctx, sig, sub)
			return nil
		})
	}
	_ = g.Wait()

	rec.Executions = results
	succeeded := 0
	for _, ex := range results {
		if ex.Status == model.ExecutionCompleted {
			succeeded++
		}
	}
	status := model.StatusFailed
	switch {
	case succeeded == len(results):
		status = model.StatusCompleted
	case succeeded > 0:
		status = model.StatusPartiallyCompleted
	}
	log.Info("signal processed", "status", status, "subscribers", len(results), "succeeded", succeeded)
	p.finish(ctx, rec, status, "")
	return rec, nil
}

// execute never returns an error: every outcome becomes the subscriber's execution record.
func (p *Processor) execute(ctx context.Context, sig *model.Signal, sub model.Subscription) (ex model.Execution) {
	ex = model.Execution{UserID: sub.UserID, SubscriptionID: sub.ID, Status: model.ExecutionFailed}
	defer func() {
		ex.Timestamp = p.now().UTC()
		metrics.TradesTotal.WithLabelValues(string(ex.Status), string(sig.Action)).Inc()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("subscriber execution panicked", "user_id", sub.UserID, "panic", r)
			ex.Status = model.ExecutionFailed
			ex.Message = "internal error"
		}
	}()

	token, err := p.tokens.GetAccessToken(ctx, sub.UserID, p.opts.Exchange)
	switch {
	case errors.Is(err, service.ErrTokenAbsent):
		p.log.Info("subscriber has no linked account", "user_id", sub.UserID)
		ex.Message = "exchange account not linked"
		return ex
	case errors.Is(err, service.ErrTokenRefreshFailed):
		p.log.Warn("subscriber needs to re-authenticate", "user_id", sub.UserID)
		ex.Message = "exchange re-authentication required"
		return ex
	case err != nil:
		p.log.Error("token lookup failed", "user_id", sub.UserID, "error", err)
		ex.Message = "token lookup failed"
		return ex
	}

	res, err := p.trader.PlaceOrder(ctx, token, exchange.OrderRequest{
		ClientOrderID: clientOrderID(sig.ID, sub.ID),
		ProductID:     sig.ProductID(),
		Side:          sig.Action,
		Size:          sig.Size,
		SizeInQuote:   sig.SizeInQuote,
		LimitPrice:    sig.LimitPrice,
		PortfolioUUID: sub.PortfolioUUID,
	})
	if err != nil {
		p.log.Warn("order request failed", "user_id", sub.UserID, "error", err)
		ex.Message = err.Error()
		return ex
	}
	ex.OrderID = res.OrderID
	if !res.Success {
		ex.Message = res.FailureReason
		return ex
	}
	ex.Status = model.ExecutionCompleted
	return ex
}

func (p *Processor) finish(ctx context.Context, rec *model.SignalRecord, status model.SignalStatus, reason string) {
	rec.Status = status
	rec.Reason = reason
	rec.UpdatedAt = p.now().UTC()
	metrics.SignalsTotal.WithLabelValues(p.label, string(status)).Inc()
	if err := p.history.Update(ctx, rec); err != nil {
		p.log.Warn("history update failed", "signal_id", rec.Signal.ID, "error", err)
	}
}

var orderNamespace = uuid.MustParse("8f1d7a52-4c1e-4a7e-9b0e-2f6f0c3b7d11")

// clientOrderID is stable per (signal, subscription) so a replayed signal cannot
// place a second order for the same subscriber.
func clientOrderID(signalID string, subscriptionID int64) string {
	return uuid.NewSHA1(orderNamespace, []byte(signalID+"/"+strconv.FormatInt(subscriptionID, 10))).String()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
