package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

const maxHistory = 100

type HistoryReader interface {
	Recent(ctx context.Context, botID int64, limit int) ([]model.SignalRecord, error)
}

type BotHandler struct {
	subs    *service.SubscriptionService
	history HistoryReader
}

func NewBotHandler(subs *service.SubscriptionService, history HistoryReader) *BotHandler {
	return &BotHandler{subs: subs, history: history}
}

func (h *BotHandler) List(c *gin.Context) {
	bots, err := h.subs.Bots(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": bots})
}

// History returns the newest signal records of a bot, newest first.
func (h *BotHandler) History(c *gin.Context) {
	botID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || botID <= 0 {
		_ = c.Error(apperrors.NewInvalidRequest("bot id must be a positive integer"))
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			_ = c.Error(apperrors.NewInvalidRequest("limit must be a positive integer"))
			return
		}
	}
	limit = min(limit, maxHistory)

	if _, err := h.subs.Bot(c.Request.Context(), botID); err != nil {
		_ = c.Error(err)
		return
	}
	records, err := h.history.Recent(c.Request.Context(), botID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": botID, "signals": records})
}
