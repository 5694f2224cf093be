package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/model"
	"github.com/coinpilot/coinpilot/internal/pkg/crypto"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "handler-test-secret"

type stubExchange struct{}

func (stubExchange) Name() string { return "coinbase" }

func (stubExchange) AuthorizeURL(state string) string {
	return "https://login.exchange.test/oauth2/auth?state=" + state
}

func (stubExchange) ExchangeCode(_ context.Context, code string) (*exchange.TokenSet, error) {
	if code != "good-code" {
		return nil, errors.New("invalid_grant")
	}
	return &exchange.TokenSet{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (stubExchange) Refresh(context.Context, string) (*exchange.TokenSet, error) {
	return nil, errors.New("invalid_grant")
}

func (stubExchange) PlaceOrder(context.Context, string, exchange.OrderRequest) (*exchange.OrderResult, error) {
	return &exchange.OrderResult{Success: true}, nil
}

func (stubExchange) ListAccounts(context.Context, string) ([]exchange.Account, error) {
	return []exchange.Account{{UUID: "acct-usd", Currency: "USD", Available: decimal.NewFromInt(250)}}, nil
}

func (stubExchange) ListPortfolios(context.Context, string) ([]exchange.Portfolio, error) {
	return []exchange.Portfolio{{UUID: "pf-1", Name: "Default"}, {UUID: "pf-2", Name: "Bots"}}, nil
}

func (stubExchange) PortfolioPositions(context.Context, string, string) ([]exchange.Position, error) {
	return []exchange.Position{{Asset: "BTC"}, {Asset: "USD"}}, nil
}

func (stubExchange) SpotPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

type apiFixture struct {
	router  *gin.Engine
	broker  *service.TokenBroker
	history *repository.MemorySignalHistory
	bot     *model.Bot
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	codec, err := crypto.NewCodec("handler-test")
	require.NoError(t, err)
	registry := exchange.NewRegistry(stubExchange{})
	broker := service.NewTokenBroker(repository.NewMemoryCredentialStore(), codec, registry, config.BrokerConfig{}, nil)

	bots := repository.NewMemoryBotStore()
	bot := &model.Bot{Name: "btc-flipper", Exchange: "coinbase", AssetTypes: []string{"BTC", "USD"}}
	require.NoError(t, bots.UpsertByName(context.Background(), bot))
	history := repository.NewMemorySignalHistory(10)

	subs := service.NewSubscriptionService(repository.NewMemorySubscriptionStore(), bots, broker, registry, nil)
	accounts := service.NewAccountService(broker, registry)
	links := service.NewLinkService(repository.NewMemoryOAuthStateStore(), broker, registry, nil)

	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: jwtSecret}}
	router := NewRouter(cfg, Handlers{
		Link:          NewLinkHandler(links, false),
		Account:       NewAccountHandler(accounts),
		Bot:           NewBotHandler(subs, history),
		Subscription:  NewSubscriptionHandler(subs),
		BalanceStream: NewBalanceStream(accounts, 20*time.Millisecond, nil),
	}, logger.Discard())
	return &apiFixture{router: router, broker: broker, history: history, bot: bot}
}

func bearerFor(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (f *apiFixture) do(t *testing.T, userID int64, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", bearerFor(t, userID))
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) link(t *testing.T, userID int64) {
	t.Helper()
	require.NoError(t, f.broker.Store(context.Background(), userID, "coinbase", &exchange.TokenSet{
		AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.Now().Add(time.Hour),
	}))
}

func stateCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == StateCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie set", StateCookie)
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestLinkFlow(t *testing.T) {
	f := newAPIFixture(t)

	start := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/link", nil)
	require.Equal(t, http.StatusOK, start.Code)
	cookie := stateCookie(t, start)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
	assert.Contains(t, start.Body.String(), cookie.Value)

	cb := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/callback?code=good-code&state="+cookie.Value, nil, cookie)
	require.Equal(t, http.StatusOK, cb.Code, cb.Body.String())
	assert.Equal(t, -1, stateCookie(t, cb).MaxAge)

	accounts := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/accounts", nil)
	require.Equal(t, http.StatusOK, accounts.Code)
	assert.Contains(t, accounts.Body.String(), "acct-usd")

	replay := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/callback?code=good-code&state="+cookie.Value, nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
	assert.Equal(t, "STATE_MISMATCH", errorCode(t, replay))
}

func TestLinkStartRedirectsBrowsers(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/exchanges/coinbase/link", nil)
	req.Header.Set("Authorization", bearerFor(t, 1))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://login.exchange.test/"))
}

func TestCallbackRejections(t *testing.T) {
	f := newAPIFixture(t)
	cookie := stateCookie(t, f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/link", nil))

	t.Run("query and cookie differ", func(t *testing.T) {
		rec := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/callback?code=good-code&state=forged", nil, cookie)
		assert.Equal(t, "STATE_MISMATCH", errorCode(t, rec))
	})
	t.Run("state owned by another user", func(t *testing.T) {
		rec := f.do(t, 2, http.MethodGet, "/v1/exchanges/coinbase/callback?code=good-code&state="+cookie.Value, nil, cookie)
		assert.Equal(t, "STATE_MISMATCH", errorCode(t, rec))
	})
	t.Run("user denied access", func(t *testing.T) {
		rec := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/callback?error=access_denied", nil, cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unknown exchange", func(t *testing.T) {
		rec := f.do(t, 1, http.MethodGet, "/v1/exchanges/kraken/link", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	accounts := f.do(t, 1, http.MethodGet, "/v1/exchanges/coinbase/accounts", nil)
	assert.Equal(t, "NOT_LINKED", errorCode(t, accounts))
}

func TestUnlink(t *testing.T) {
	f := newAPIFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, 1, http.MethodDelete, "/v1/exchanges/coinbase/link", nil).Code)

	f.link(t, 1)
	assert.Equal(t, http.StatusNoContent, f.do(t, 1, http.MethodDelete, "/v1/exchanges/coinbase/link", nil).Code)
	_, err := f.broker.GetAccessToken(context.Background(), 1, "coinbase")
	assert.ErrorIs(t, err, service.ErrTokenAbsent)
}

func TestRequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, 0, http.MethodGet, "/v1/bots", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusOK, f.do(t, 0, http.MethodGet, "/health", nil).Code)
}

func TestSubscriptions(t *testing.T) {
	f := newAPIFixture(t)
	f.link(t, 1)
	f.link(t, 2)

	created := f.do(t, 1, http.MethodPost, "/v1/subscriptions", gin.H{"bot_id": f.bot.ID, "portfolio_uuid": "pf-1"})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var sub model.Subscription
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &sub))

	taken := f.do(t, 2, http.MethodPost, "/v1/subscriptions", gin.H{"bot_id": f.bot.ID, "portfolio_uuid": "pf-1"})
	assert.Equal(t, http.StatusConflict, taken.Code)

	invalid := f.do(t, 1, http.MethodPost, "/v1/subscriptions", gin.H{"portfolio_uuid": "pf-2"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	unlinked := f.do(t, 3, http.MethodPost, "/v1/subscriptions", gin.H{"bot_id": f.bot.ID, "portfolio_uuid": "pf-2"})
	assert.Equal(t, "NOT_LINKED", errorCode(t, unlinked))

	list := f.do(t, 1, http.MethodGet, "/v1/subscriptions", nil)
	assert.Contains(t, list.Body.String(), `"portfolio_uuid":"pf-1"`)

	path := "/v1/subscriptions/" + strconv.FormatInt(sub.ID, 10)
	assert.Equal(t, http.StatusNotFound, f.do(t, 2, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, 1, http.MethodDelete, path, nil).Code)
}

func TestBotsAndHistory(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now().UTC()
	require.NoError(t, f.history.Record(context.Background(), &model.SignalRecord{
		Signal:    model.Signal{ID: "sig-1", BotID: f.bot.ID, Action: model.ActionBuy, Asset: "BTC", Size: decimal.NewFromInt(10)},
		Status:    model.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	bots := f.do(t, 1, http.MethodGet, "/v1/bots", nil)
	require.Equal(t, http.StatusOK, bots.Code)
	assert.Contains(t, bots.Body.String(), "btc-flipper")

	history := f.do(t, 1, http.MethodGet, "/v1/bots/"+strconv.FormatInt(f.bot.ID, 10)+"/history?limit=5", nil)
	require.Equal(t, http.StatusOK, history.Code)
	assert.Contains(t, history.Body.String(), "sig-1")
	assert.Contains(t, history.Body.String(), `"status":"completed"`)

	assert.Equal(t, http.StatusNotFound, f.do(t, 1, http.MethodGet, "/v1/bots/999/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, 1, http.MethodGet, "/v1/bots/abc/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, 1, http.MethodGet, "/v1/bots/1/history?limit=0", nil).Code)
}

func dialBalances(t *testing.T, srv *httptest.Server, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/balances"
	header := http.Header{}
	header.Set("Authorization", bearerFor(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBalanceStream(t *testing.T) {
	f := newAPIFixture(t)
	f.link(t, 1)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dialBalances(t, srv, 1)
	for i := 0; i < 2; i++ {
		var msg balanceMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Empty(t, msg.Error)
		require.Len(t, msg.Accounts, 1)
		assert.Equal(t, "USD", msg.Accounts[0].Currency)
	}
}

func TestBalanceStreamClosesWhenNotLinked(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	conn := dialBalances(t, srv, 1)
	var msg balanceMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "NOT_LINKED", msg.Error)

	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
