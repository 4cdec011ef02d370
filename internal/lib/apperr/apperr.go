// Package apperr описывает доменные виды ошибок и их соответствие HTTP-статусам.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Базовые виды ошибок. Проверяются через errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// AppError ошибка с сообщением для клиента и HTTP-статусом.
type AppError struct {
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation создает ошибку 400.
func Validation(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusBadRequest, Err: ErrValidation}
}

// Unauthorized создает ошибку 401.
func Unauthorized(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusUnauthorized, Err: ErrUnauthorized}
}

// NotFound создает ошибку 404.
func NotFound(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusNotFound, Err: ErrNotFound}
}

// Conflict создает ошибку 409.
func Conflict(message string) *AppError {
	return &AppError{Message: message, Status: http.StatusConflict, Err: ErrConflict}
}

// HTTPStatus возвращает код ответа для ошибки; все неизвестные ошибки дают 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message возвращает текст, который можно показать клиенту.
// Для внутренних ошибок детали скрываются.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "Invalid request"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	default:
		return "Internal server error"
	}
}
