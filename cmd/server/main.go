package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinpilot/coinpilot/internal/app"
	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/handler"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)
	lg := logger.Get()
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret is required")
	}

	stores, err := app.OpenStores(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to open stores: %v", err)
	}
	defer stores.Close()

	// Signal history lives in Redis next to the queues; without it the API serves an empty history.
	var history handler.HistoryReader = repository.NewMemorySignalHistory(cfg.Queue.HistoryMax)
	if cfg.Redis.Addr != "" {
		rdb, err := repository.NewRedisClient(cfg)
		if err != nil {
			lg.Error("failed to connect to Redis, signal history unavailable", "error", err)
		} else {
			lg.Info("connected to Redis")
			defer rdb.Close()
			history = repository.NewRedisSignalHistory(rdb, cfg.Queue.HistoryMax)
		}
	}

	registry := app.Registry(cfg)
	broker, err := app.TokenBroker(cfg, stores, registry, lg)
	if err != nil {
		log.Fatalf("Failed to build token broker: %v", err)
	}
	links := service.NewLinkService(stores.States, broker, registry, lg)
	subs := service.NewSubscriptionService(stores.Subscriptions, stores.Bots, broker, registry, lg)
	accounts := service.NewAccountService(broker, registry)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go links.SweepStates(sweepCtx, service.DefaultStateTTL)

	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(cfg, handler.Handlers{
		Link:          handler.NewLinkHandler(links, cfg.Server.CookieSecure),
		Account:       handler.NewAccountHandler(accounts),
		Bot:           handler.NewBotHandler(subs, history),
		Subscription:  handler.NewSubscriptionHandler(subs),
		BalanceStream: handler.NewBalanceStream(accounts, 5*time.Second, lg),
	}, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("coinpilot server started", "port", cfg.Server.Port, "exchanges", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("server forced to shutdown", "error", err)
	}
	lg.Info("server exiting")
}
