package handler

import (
	"net/http"

	"github.com/coinpilot/coinpilot/internal/middleware"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) Accounts(c *gin.Context) {
	accounts, err := h.svc.Accounts(c.Request.Context(), middleware.UserID(c), c.Param("exchange"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *AccountHandler) Portfolios(c *gin.Context) {
	portfolios, err := h.svc.Portfolios(c.Request.Context(), middleware.UserID(c), c.Param("exchange"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": portfolios})
}
