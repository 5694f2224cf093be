package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserKey    = "user_id"
	AccessTokenCookie = "access_token"
)

var errNoToken = errors.New("missing bearer token")

// Auth verifies the HS256 access token issued by the login service and stores
// the numeric subject as the caller's user id.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(c *gin.Context) {
		userID, err := authenticate(c, parser, key)
		if err != nil {
			_ = c.Error(apperrors.New(apperrors.ErrAuthFailed, "authentication required", err))
			c.Abort()
			return
		}
		c.Set(ContextUserKey, userID)
		c.Next()
	}
}

func authenticate(c *gin.Context, parser *jwt.Parser, key []byte) (int64, error) {
	raw := bearer(c.GetHeader("Authorization"))
	if raw == "" {
		raw, _ = c.Cookie(AccessTokenCookie)
	}
	if raw == "" {
		return 0, errNoToken
	}
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// UserID returns the authenticated caller. Only valid behind Auth.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserKey)
}
