package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coinpilot/coinpilot/internal/app"
	"github.com/coinpilot/coinpilot/internal/bot"
	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/pkg/metrics"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
)

func main() {
	botID, err := app.ParseBotID("processor", os.Args[1:], os.Stderr)
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

	registry := app.Registry(cfg)
	trader, err := registry.Get(b.Exchange)
	if err != nil {
		log.Fatalf("Bot %q: %v", b.Name, err)
	}
	broker, err := app.TokenBroker(cfg, stores, registry, lg)
	if err != nil {
		log.Fatalf("Failed to build token broker: %v", err)
	}

	rdb, err := repository.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	history := repository.NewRedisSignalHistory(rdb, cfg.Queue.HistoryMax)

	if cfg.Metrics.WorkerAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.Metrics.WorkerAddr); err != nil {
				lg.Error("metrics listener stopped", "error", err)
			}
		}()
	}

	proc := bot.NewProcessor(bot.ProcessorOptions{
		BotID:       botID,
		Exchange:    b.Exchange,
		PopTimeout:  cfg.Queue.PopTimeout,
		Concurrency: cfg.Processor.Concurrency,
	}, repository.NewRedisSignalQueue(rdb), history, stores.Subscriptions, broker, trader, lg)
	if cfg.Risk.Enabled {
		proc.WithRisk(service.NewRiskGate(cfg.Risk, history))
	}
	if cfg.Queue.Exclusive {
		proc.WithQueueLock(repository.NewRedisQueueLock(rdb, cfg.Queue.LockTTL))
	}
	if err := proc.Run(ctx); err != nil {
		log.Fatalf("Processor failed: %v", err)
	}
}
