package handler

import (
	"log/slog"
	"net/http"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Link          *LinkHandler
	Account       *AccountHandler
	Bot           *BotHandler
	Subscription  *SubscriptionHandler
	BalanceStream *BalanceStream
}

// NewRouter wires the public API. Everything under /v1 requires a valid access token.
func NewRouter(cfg *config.Config, h Handlers, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.ErrorHandler(log))
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "coinpilot"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.Auth(cfg.Auth.JWTSecret))
	v1.Use(middleware.RateLimit(cfg.Auth.RequestsPerSecond, cfg.Auth.Burst))
	{
		v1.GET("/exchanges/:exchange/link", h.Link.Start)
		v1.GET("/exchanges/:exchange/callback", h.Link.Callback)
		v1.DELETE("/exchanges/:exchange/link", h.Link.Unlink)
		v1.GET("/exchanges/:exchange/accounts", h.Account.Accounts)
		v1.GET("/exchanges/:exchange/portfolios", h.Account.Portfolios)

		v1.GET("/bots", h.Bot.List)
		v1.GET("/bots/:id/history", h.Bot.History)

		v1.GET("/subscriptions", h.Subscription.List)
		v1.POST("/subscriptions", h.Subscription.Create)
		v1.DELETE("/subscriptions/:id", h.Subscription.Delete)

		v1.GET("/ws/balances", h.BalanceStream.Serve)
	}
	return r
}
