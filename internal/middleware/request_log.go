package middleware

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID   = "X-Request-ID"
	ContextRequestKey = "request_id"
)

// RequestLog tags every request with an id and writes one access log line when it completes.
func RequestLog(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Get()
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Set(ContextRequestKey, reqID)
		c.Header(HeaderRequestID, reqID)

		c.Next()

		fields := []any{
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", redactQuery(c.Request.URL.RawQuery),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if id := UserID(c); id != 0 {
			fields = append(fields, "user_id", id)
		}
		log.Info("request", fields...)
	}
}

// redactQuery masks OAuth codes and state tokens so they never reach the logs.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[redacted]"
	}
	for key := range values {
		if isSensitiveKey(key) {
			values.Set(key, "***")
		}
	}
	return values.Encode()
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "code",
		"state",
		"access_token",
		"refresh_token",
		"token":
		return true
	default:
		return false
	}
}
