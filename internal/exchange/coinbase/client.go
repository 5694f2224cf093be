package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const Name = "coinbase"

const maxBody = 1 << 20

var _ exchange.Exchange = (*Client)(nil)

// Client talks to Coinbase OAuth and the Advanced Trade API.
type Client struct {
	cfg     config.CoinbaseConfig
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg config.CoinbaseConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 5),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", c.cfg.Scope)
	q.Set("state", state)
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*exchange.TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, data)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*exchange.TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, data)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) tokenRequest(ctx context.Context, data url.Values) (*exchange.TokenSet, error) {
	data.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tok tokenResponse
	_ = json.Unmarshal(body, &tok)
	if resp.StatusCode >= 300 {
		if tok.Error == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", exchange.ErrInvalidGrant, tok.ErrorDescription)
		}
		return nil, fmt.Errorf("token request failed: status=%d error=%s", resp.StatusCode, tok.Error)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return &exchange.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        tok.Scope,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// APIError is a non-2xx reply from the brokerage API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinbase api: status=%d %s", e.Status, e.Message)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.APIBaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type orderConfiguration struct {
	MarketIOC *marketIOC `json:"market_market_ioc,omitempty"`
	LimitGTC  *limitGTC  `json:"limit_limit_gtc,omitempty"`
}

type marketIOC struct {
	QuoteSize string `json:"quote_size,omitempty"`
	BaseSize  string `json:"base_size,omitempty"`
}

type limitGTC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
}

type createOrderRequest struct {
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	OrderConfiguration orderConfiguration `json:"order_configuration"`
	RetailPortfolioID  string             `json:"retail_portfolio_id,omitempty"`
}

type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID       string `json:"order_id"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error        string `json:"error"`
		Message      string `json:"message"`
		ErrorDetails string `json:"error_details"`
	} `json:"error_response"`
	FailureReason string `json:"failure_reason"`
}

func buildOrder(req exchange.OrderRequest) (createOrderRequest, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	out := createOrderRequest{
		ClientOrderID:     req.ClientOrderID,
		ProductID:         req.ProductID,
		Side:              string(req.Side),
		RetailPortfolioID: req.PortfolioUUID,
	}
	switch {
	case req.LimitPrice != nil:
		base := req.Size
		if req.SizeInQuote {
			if req.LimitPrice.IsZero() {
				return out, fmt.Errorf("limit price is zero")
			}
			base = req.Size.Div(*req.LimitPrice).Truncate(8)
		}
		out.OrderConfiguration.LimitGTC = &limitGTC{BaseSize: base.String(), LimitPrice: req.LimitPrice.String()}
	case req.SizeInQuote:
		out.OrderConfiguration.MarketIOC = &marketIOC{QuoteSize: req.Size.StringFixed(2)}
	default:
		out.OrderConfiguration.MarketIOC = &marketIOC{BaseSize: req.Size.String()}
	}
	return out, nil
}

func (c *Client) PlaceOrder(ctx context.Context, accessToken string, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	body, err := buildOrder(req)
	if err != nil {
		return nil, err
	}
	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders", accessToken, body, &resp); err != nil {
		return nil, err
	}
	res := &exchange.OrderResult{
		OrderID:       resp.SuccessResponse.OrderID,
		ClientOrderID: body.ClientOrderID,
		Success:       resp.Success,
	}
	if !resp.Success {
		reason := resp.ErrorResponse.Message
		if reason == "" {
			reason = resp.ErrorResponse.Error
		}
		if reason == "" {
			reason = resp.FailureReason
		}
		res.FailureReason = reason
	}
	return res, nil
}

type money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func (c *Client) ListAccounts(ctx context.Context, accessToken string) ([]exchange.Account, error) {
	var (
		out    []exchange.Account
		cursor string
	)
	for {
		path := "/api/v3/brokerage/accounts?limit=250"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		var page struct {
			Accounts []struct {
				UUID             string `json:"uuid"`
				Name             string `json:"name"`
				Currency         string `json:"currency"`
				AvailableBalance money  `json:"available_balance"`
				Hold             money  `json:"hold"`
			} `json:"accounts"`
			HasNext bool   `json:"has_next"`
			Cursor  string `json:"cursor"`
		}
		if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &page); err != nil {
			return nil, err
		}
		for _, a := range page.Accounts {
			out = append(out, exchange.Account{
				UUID:      a.UUID,
				Name:      a.Name,
				Currency:  a.Currency,
				Available: a.AvailableBalance.Value,
				Hold:      a.Hold.Value,
			})
		}
		if !page.HasNext || page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

func (c *Client) ListPortfolios(ctx context.Context, accessToken string) ([]exchange.Portfolio, error) {
	var resp struct {
		Portfolios []exchange.Portfolio `json:"portfolios"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/portfolios", accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Portfolios, nil
}

func (c *Client) PortfolioPositions(ctx context.Context, accessToken, portfolioUUID string) ([]exchange.Position, error) {
	var resp struct {
		Breakdown struct {
			SpotPositions []struct {
				Asset              string          `json:"asset"`
				TotalBalanceCrypto decimal.Decimal `json:"total_balance_crypto"`
				TotalBalanceFiat   decimal.Decimal `json:"total_balance_fiat"`
			} `json:"spot_positions"`
		} `json:"breakdown"`
	}
	path := "/api/v3/brokerage/portfolios/" + url.PathEscape(portfolioUUID)
	if err := c.do(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(resp.Breakdown.SpotPositions))
	for _, p := range resp.Breakdown.SpotPositions {
		out = append(out, exchange.Position{
			Asset:       p.Asset,
			TotalCrypto: p.TotalBalanceCrypto,
			TotalFiat:   p.TotalBalanceFiat,
		})
	}
	return out, nil
}

// SpotPrice reads the public price endpoint; no user token is needed.
func (c *Client) SpotPrice(ctx context.Context, productID string) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			Amount decimal.Decimal `json:"amount"`
		} `json:"data"`
	}
	path := "/v2/prices/" + url.PathEscape(productID) + "/spot"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Data.Amount, nil
}
