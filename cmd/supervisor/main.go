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
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	lg := logger.Get()
	if len(cfg.Bots) == 0 {
		log.Fatal("no bots configured")
	}

	stores, err := app.OpenStores(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := bot.NewSupervisor(cfg.Supervisor, cfg.Bots, stores.Bots, bot.ExecLauncher{}, lg)
	if err := sup.Run(ctx); err != nil {
		log.Fatalf("Supervisor failed: %v", err)
	}
	lg.Info("supervisor exiting")
}
