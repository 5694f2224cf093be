package handler

import (
	"net/http"
	"strconv"

	"github.com/coinpilot/coinpilot/internal/middleware"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	svc *service.SubscriptionService
}

func NewSubscriptionHandler(svc *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

type subscribeRequest struct {
	BotID         int64  `json:"bot_id" binding:"required,gt=0"`
	PortfolioUUID string `json:"portfolio_uuid" binding:"required"`
}

func (h *SubscriptionHandler) List(c *gin.Context) {
	subs, err := h.svc.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	sub, err := h.svc.Subscribe(c.Request.Context(), middleware.UserID(c), req.BotID, req.PortfolioUUID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *SubscriptionHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidRequest("subscription id must be an integer"))
		return
	}
	if err := h.svc.Unsubscribe(c.Request.Context(), middleware.UserID(c), id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
