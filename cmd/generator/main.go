package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coinpilot/coinpilot/internal/app"
	"github.com/coinpilot/coinpilot/internal/bot"
	"github.com/coinpilot/coinpilot/internal/bot/strategy"
	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/coinpilot/coinpilot/internal/repository"
)

func main() {
	botID, err := app.ParseBotID("generator", os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	lg := logger.With("bot_id", botID)

	stores, err := app.OpenStores(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := stores.Bots.Get(ctx, botID)
	if err != nil {
		log.Fatalf("Failed to load bot %d: %v", botID, err)
	}
	botCfg, ok := cfg.FindBot(b.Name)
	if !ok {
		log.Fatalf("Bot %q has no entry in the bots config", b.Name)
	}

	ex, err := app.Registry(cfg).Get(b.Exchange)
	if err != nil {
		log.Fatalf("Bot %q: %v", b.Name, err)
	}
	strat, err := strategy.New(botCfg, ex)
	if err != nil {
		log.Fatalf("Bot %q: %v", b.Name, err)
	}

	rdb, err := repository.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	if cfg.Metrics.WorkerAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.Metrics.WorkerAddr); err != nil {
				lg.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	gen := bot.NewGenerator(bot.GeneratorOptions{
		BotID:        botID,
		Interval:     botCfg.Interval,
		PurgeOnStart: cfg.Queue.PurgeOnStart,
	}, strat, repository.NewRedisSignalQueue(rdb), lg)
	if err := gen.Run(ctx); err != nil {
		log.Fatalf("Generator failed: %v", err)
	}
}
