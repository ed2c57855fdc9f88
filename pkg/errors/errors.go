package errors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrRecipientNotFound  = errors.New("recipient not found")
	ErrPersistence        = errors.New("persistence error")
	ErrChannelUnavailable = errors.New("realtime channel unavailable")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInternalServer     = errors.New("internal server error")
)

type APIError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(message string, code int) *APIError {
	return &APIError{
		Message: message,
		Code:    code,
	}
}

// Is и As пробрасываются, чтобы пакет можно было импортировать вместо стандартного.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrRecipientNotFound), errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage возвращает текст ошибки, который можно отдать клиенту.
// Внутренние детали хранилища наружу не уходят.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return ErrUnauthenticated.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return ErrInvalidCredentials.Error()
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrRateLimited):
		return err.Error()
	case errors.Is(err, ErrPersistence):
		return "failed to store message"
	default:
		return ErrInternalServer.Error()
	}
}
