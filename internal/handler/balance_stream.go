package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/middleware"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type AccountReader interface {
	Accounts(ctx context.Context, userID int64, exchangeName string) ([]exchange.Account, error)
}

type balanceMessage struct {
	Exchange  string             `json:"exchange"`
	Accounts  []exchange.Account `json:"accounts,omitempty"`
	Error     string             `json:"error,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// BalanceStream pushes the caller's exchange balances over a websocket on a fixed interval.
type BalanceStream struct {
	accounts AccountReader
	interval time.Duration
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewBalanceStream(accounts AccountReader, interval time.Duration, log *slog.Logger) *BalanceStream {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &BalanceStream{
		accounts: accounts,
		interval: interval,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:      log.With("component", "balance_stream"),
	}
}

func (h *BalanceStream) Serve(c *gin.Context) {
	userID := middleware.UserID(c)
	exchangeName := c.DefaultQuery("exchange", "coinbase")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade error", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		if !h.push(ctx, conn, userID, exchangeName) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// push sends one snapshot and reports whether the stream should continue.
func (h *BalanceStream) push(ctx context.Context, conn *websocket.Conn, userID int64, exchangeName string) bool {
	msg := balanceMessage{Exchange: exchangeName, Timestamp: time.Now().UTC()}
	accounts, err := h.accounts.Accounts(ctx, userID, exchangeName)
	terminal := false
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		appErr := middleware.ToAppError(err)
		msg.Error, msg.Message = string(appErr.Type), appErr.Message
		terminal = errors.Is(err, service.ErrTokenAbsent) || errors.Is(err, service.ErrTokenRefreshFailed) ||
			errors.Is(err, exchange.ErrUnknownExchange)
		if !terminal {
			h.log.Warn("balance fetch failed", "user_id", userID, "exchange", exchangeName, "error", err)
		}
	} else {
		msg.Accounts = accounts
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug("ws write error", "error", err)
		return false
	}
	if terminal {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Error), time.Now().Add(writeWait))
		return false
	}
	return true
}
