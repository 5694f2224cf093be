package bot

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coinpilot/coinpilot/internal/bot/strategy"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/google/uuid"
)

type GeneratorOptions struct {
	BotID        int64
	Interval     time.Duration
	PurgeOnStart bool
}

// Generator asks the strategy for a signal every interval and appends it to the bot queue.
type Generator struct {
	opts     GeneratorOptions
	strategy strategy.Strategy
	queue    Queue
	log      *slog.Logger
	now      func() time.Time
}

func NewGenerator(opts GeneratorOptions, strat strategy.Strategy, queue Queue, log *slog.Logger) *Generator {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Generator{
		opts:     opts,
		strategy: strat,
		queue:    queue,
		log:      log.With("component", "generator", "bot_id", opts.BotID, "strategy", strat.Name()),
		now:      time.Now,
	}
}

func (g *Generator) Run(ctx context.Context) error {
	if g.opts.PurgeOnStart {
		if err := g.queue.Purge(ctx, g.opts.BotID); err != nil {
			return err
		}
		g.log.Info("stale queue entries purged")
	}
	g.log.Info("generator started", "interval", g.opts.Interval)

	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := g.Tick(ctx); err != nil && ctx.Err() == nil {
			g.log.Error("generation cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			g.log.Info("generator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one generation cycle. It returns the pushed signal, or nil when the
// strategy had nothing to say.
func (g *Generator) Tick(ctx context.Context) (*model.Signal, error) {
	sig, err := g.strategy.Next(ctx)
	if err != nil || sig == nil {
		return nil, err
	}
	sig.ID = uuid.NewString()
	sig.BotID = g.opts.BotID
	sig.CreatedAt = g.now().UTC()

	payload, err := model.EncodeSignal(sig)
	if err != nil {
		return nil, err
	}
	if err := g.queue.Push(ctx, g.opts.BotID, payload); err != nil {
		return nil, err
	}
	metrics.SignalsPushed.WithLabelValues(strconv.FormatInt(g.opts.BotID, 10)).Inc()
	g.log.Info("signal pushed", "signal_id", sig.ID, "action", sig.Action, "asset", sig.Asset, "size", sig.Size)
	return sig, nil
}
