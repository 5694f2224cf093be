package handler

import (
	"net/http"
	"strings"

	"github.com/coinpilot/coinpilot/internal/middleware"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	StateCookie     = "oauth_state"
	stateCookiePath = "/v1/exchanges"
)

type LinkHandler struct {
	links        *service.LinkService
	cookieSecure bool
}

func NewLinkHandler(links *service.LinkService, cookieSecure bool) *LinkHandler {
	return &LinkHandler{links: links, cookieSecure: cookieSecure}
}

// Start begins the authorization flow and redirects to the exchange. Clients
// asking for JSON get the URL back instead.
func (h *LinkHandler) Start(c *gin.Context) {
	url, state, err := h.links.StartLink(c.Request.Context(), middleware.UserID(c), c.Param("exchange"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.setStateCookie(c, state, int(service.DefaultStateTTL.Seconds()))

	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{"authorize_url": url})
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *LinkHandler) Callback(c *gin.Context) {
	// The state cookie is single use whatever the outcome.
	cookieState, _ := c.Cookie(StateCookie)
	h.setStateCookie(c, "", -1)

	if denied := c.Query("error"); denied != "" {
		_ = c.Error(apperrors.NewInvalidRequest("authorization was not granted: " + denied))
		return
	}

	exchangeName := c.Param("exchange")
	err := h.links.CompleteLink(c.Request.Context(), middleware.UserID(c), exchangeName,
		c.Query("code"), c.Query("state"), cookieState)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "linked", "exchange": exchangeName})
}

func (h *LinkHandler) Unlink(c *gin.Context) {
	if err := h.links.Unlink(c.Request.Context(), middleware.UserID(c), c.Param("exchange")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LinkHandler) setStateCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     stateCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
