package middleware

import (
	"errors"
	"log/slog"

	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/pkg/apperrors"
	"github.com/coinpilot/coinpilot/internal/pkg/logger"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/gin-gonic/gin"
)

func ErrorHandler(log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Get()
	}
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := ToAppError(c.Errors.Last().Err)
		logFields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
		}
		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), log, appErr, "internal server error", logFields...)
		} else {
			log.Warn(appErr.Message, logFields...)
		}

		if !c.Writer.Written() {
			c.JSON(appErr.HTTPStatus, appErr)
		}
	}
}

// ToAppError translates service and repository sentinels into API errors.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, service.ErrTokenAbsent):
		return apperrors.New(apperrors.ErrNotLinked, "exchange account is not linked", err)
	case errors.Is(err, service.ErrTokenRefreshFailed):
		return apperrors.New(apperrors.ErrReauthRequired, "exchange authorization expired", err)
	case errors.Is(err, service.ErrStateMismatch):
		return apperrors.New(apperrors.ErrStateMismatch, "authorization state did not match", err)
	case errors.Is(err, service.ErrCodeExchange):
		return apperrors.New(apperrors.ErrUpstream, "exchange rejected the authorization code", err)
	case errors.Is(err, repository.ErrPortfolioInUse):
		return apperrors.New(apperrors.ErrConflict, "portfolio already backs a subscription", err)
	case errors.Is(err, service.ErrPortfolioNotOwned), errors.Is(err, service.ErrMissingAssets):
		return apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.New(apperrors.ErrNotFound, "resource not found", err)
	case errors.Is(err, exchange.ErrUnknownExchange):
		return apperrors.New(apperrors.ErrNotFound, "unknown exchange", err)
	default:
		return apperrors.New(apperrors.ErrInternal, "internal error", err)
	}
}
