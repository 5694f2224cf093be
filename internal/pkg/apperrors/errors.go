package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrRiskReject     ErrorType = "RISK_REJECT"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrConflict       ErrorType = "CONFLICT"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
	ErrNotLinked      ErrorType = "NOT_LINKED"
	ErrReauthRequired ErrorType = "REAUTH_REQUIRED"
	ErrStateMismatch  ErrorType = "STATE_MISMATCH"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
	// Reason is a short machine label, e.g. the risk rule that fired.
	Reason string `json:"reason,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewRiskReject(reason, msg string) *AppError {
	e := New(ErrRiskReject, msg, nil)
	e.Reason = reason
	return e
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrRiskReject, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed, ErrStateMismatch:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	case ErrNotFound, ErrNotLinked:
		return http.StatusNotFound
	case ErrReauthRequired:
		return http.StatusPreconditionRequired
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRiskReject:
		return "Check signal parameters against risk limits."
	case ErrAuthFailed:
		return "Check the bearer token."
	case ErrNotLinked:
		return "Link an exchange account first."
	case ErrReauthRequired:
		return "Re-link the exchange account."
	case ErrStateMismatch:
		return "Restart the account linking flow."
	case ErrConflict:
		return "Use a different portfolio."
	default:
		return ""
	}
}
