package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation flags invalid user input. The cart is left unchanged.
func Validation(message string, err error) *AppError {
	return NewAppError("VALIDATION", message, http.StatusBadRequest, err)
}

// NotFound flags a missing cart line, address, method or order.
func NotFound(message string, err error) *AppError {
	return NewAppError("NOT_FOUND", message, http.StatusNotFound, err)
}

// PaymentDeclined flags a card decline. The order is persisted as
// failed and the cart is kept intact for retry.
func PaymentDeclined(message string, err error) *AppError {
	return NewAppError("PAYMENT_DECLINED", message, http.StatusPaymentRequired, err)
}

// Gateway flags a network or timeout failure talking to the payment
// provider. Safe to retry with the same idempotency key.
func Gateway(message string, err error) *AppError {
	return NewAppError("GATEWAY", message, http.StatusBadGateway, err)
}

// Consistency flags a stock or redemption conflict detected by an
// atomic guard.
func Consistency(message string, err error) *AppError {
	return NewAppError("CONSISTENCY", message, http.StatusConflict, err)
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the AppError if present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
