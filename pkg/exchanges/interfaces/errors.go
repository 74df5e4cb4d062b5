package interfaces

import (
	"errors"
	"fmt"
)

// Common error variables that exchange connectors may return
var (
	// ErrNotConnected is returned when an operation is attempted on a
	// connection that hasn't been established yet or was lost
	ErrNotConnected = errors.New("exchange connection not established")

	// ErrInvalidSymbol is returned when a symbol is unknown to the
	// exchange's pair table; lookups fail loudly rather than passing the
	// unmapped spelling through
	ErrInvalidSymbol = errors.New("unknown trading pair symbol")

	// ErrInvalidRequest is returned when an outbound order command fails
	// shape validation
	ErrInvalidRequest = errors.New("invalid order request")

	// ErrRateLimitExceeded is returned when the exchange rate limit is exceeded
	ErrRateLimitExceeded = errors.New("exchange rate limit exceeded")

	// ErrAuthentication is returned for API key, signature, or nonce
	// failures; fatal for the affected credential
	ErrAuthentication = errors.New("authentication failed")

	// ErrInsufficientFunds is a business rejection, never retried
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExchangeUnavailable is returned when the exchange API is unavailable
	ErrExchangeUnavailable = errors.New("exchange API unavailable")

	// ErrSubscriptionFailed is returned when a WebSocket subscription is
	// rejected by the exchange
	ErrSubscriptionFailed = errors.New("failed to establish subscription")

	// ErrRetriesExhausted is returned when the reconnect retry ceiling is
	// reached and the connection is marked offline
	ErrRetriesExhausted = errors.New("retry ceiling exhausted")
)

// ExchangeError carries the exchange's own error code alongside the
// canonical classification it mapped to.
type ExchangeError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// Unwrap returns the canonical classification
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError wraps a raw exchange error code with its canonical kind.
func NewExchangeError(code, message string, kind error) error {
	return &ExchangeError{Code: code, Message: message, Err: kind}
}
