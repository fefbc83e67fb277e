package apperrors

import (
	"context"
	"errors"
)

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// ErrNotModified is returned when the exchange rejects a request because
	// the requested value is already in effect (leverage, take-profit).
	ErrNotModified = errors.New("not modified")
)

// Bot lifecycle errors
var (
	ErrBotNotFound        = errors.New("bot not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAlreadyRunning     = errors.New("bot is already running")
	ErrNotRunning         = errors.New("bot is not running")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCredentialsMissing = errors.New("credentials missing or incomplete")
	ErrInvalidBotConfig   = errors.New("invalid bot configuration")
	ErrEntryNotSized      = errors.New("entry quantity truncates to zero")
)

// IsTransient reports whether err is worth retrying without operator action
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrSystemOverload) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrExchangeMaintenance)
}

// IsRetryable reports whether a failed call may succeed when repeated. Transient
// exchange errors and unclassified errors (driver, I/O) are retryable; lifecycle
// and validation errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	return !errors.Is(err, ErrBotNotFound) &&
		!errors.Is(err, ErrAccountNotFound) &&
		!errors.Is(err, ErrInvalidBotConfig) &&
		!errors.Is(err, ErrInvalidTransition) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
