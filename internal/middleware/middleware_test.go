package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func signed(t *testing.T, secret, subject string, ttl time.Duration, method jwt.SigningMethod) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl))}
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger.Discard()))
	r.GET("/me", Auth(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestAuth(t *testing.T) {
	r := authRouter()
	cases := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"bearer header", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, "42", time.Hour, jwt.SigningMethodHS256))
		}, http.StatusOK},
		{"cookie", func(req *http.Request) {
			req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: signed(t, testSecret, "42", time.Hour, jwt.SigningMethodHS256)})
		}, http.StatusOK},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong secret", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signed(t, "other", "42", time.Hour, jwt.SigningMethodHS256))
		}, http.StatusUnauthorized},
		{"expired", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, "42", -time.Minute, jwt.SigningMethodHS256))
		}, http.StatusUnauthorized},
		{"non numeric subject", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, "alice", time.Hour, jwt.SigningMethodHS256))
		}, http.StatusUnauthorized},
		{"other algorithm", func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+signed(t, testSecret, "42", time.Hour, jwt.SigningMethodHS512))
		}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"user_id":42}`, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), string(apperrors.ErrAuthFailed))
			}
		})
	}
}

func TestRateLimitIsPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		var id int64
		fmt.Sscan(c.Query("u"), &id)
		c.Set(ContextUserKey, id)
	}, RateLimit(0.001, 2), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(user string) int {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?u="+user, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, hit("1"))
	assert.Equal(t, http.StatusNoContent, hit("1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("1"))
	assert.Equal(t, http.StatusNoContent, hit("2"))
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		code   apperrors.ErrorType
		status int
	}{
		{fmt.Errorf("wrap: %w", service.ErrTokenAbsent), apperrors.ErrNotLinked, http.StatusNotFound},
		{service.ErrTokenRefreshFailed, apperrors.ErrReauthRequired, http.StatusPreconditionRequired},
		{service.ErrStateMismatch, apperrors.ErrStateMismatch, http.StatusUnauthorized},
		{repository.ErrPortfolioInUse, apperrors.ErrConflict, http.StatusConflict},
		{repository.ErrNotFound, apperrors.ErrNotFound, http.StatusNotFound},
		{service.ErrMissingAssets, apperrors.ErrInvalidRequest, http.StatusBadRequest},
		{apperrors.NewRiskReject("cooldown", "too soon"), apperrors.ErrRiskReject, http.StatusBadRequest},
		{errors.New("boom"), apperrors.ErrInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got := ToAppError(tc.err)
		assert.Equal(t, tc.code, got.Type, tc.err.Error())
		assert.Equal(t, tc.status, got.HTTPStatus, tc.err.Error())
	}
}

func TestErrorHandlerHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler(logger.Discard()))
	r.GET("/fail", func(c *gin.Context) { _ = c.Error(errors.New("dial tcp 10.0.0.5:5432: refused")) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestRequestLogRedactsOAuthParameters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestLog(slog.New(slog.NewJSONHandler(&buf, nil))))
	r.GET("/callback", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=secret-code&state=secret-state&foo=bar", nil))

	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	line := buf.String()
	assert.NotContains(t, line, "secret-code")
	assert.NotContains(t, line, "secret-state")
	assert.True(t, strings.Contains(line, "foo=bar"))
}
