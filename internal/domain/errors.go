package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Callers classify with errors.Is.
var (
	// ErrDuplicateTrade is returned when a trade id is already present in the
	// ledger. Safe to ignore: retried submissions are no-ops.
	ErrDuplicateTrade = errors.New("duplicate trade id")

	// ErrStalePrice means the observation is older than the configured max
	// age and must be treated as no observation.
	ErrStalePrice = errors.New("stale price")

	// ErrTradingHalted means the daily loss limit tripped; no new entries
	// until the next trading-day boundary.
	ErrTradingHalted = errors.New("trading halted by daily loss limit")
)

// SizingError rejects an entry exceeding the position-size cap. The request
// is not clamped or retried with a different size.
type SizingError struct {
	Token        string
	RequestedUSD float64
	MaxUSD       float64
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("position size %.2f USD for %s exceeds cap %.2f USD", e.RequestedUSD, e.Token, e.MaxUSD)
}

// RateLimitError carries the delay indicated by the remote API.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AuthError is fatal: the agent halts and surfaces it.
type AuthError struct {
	Status int
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected (status %d): %s", e.Status, e.Msg)
}

// InsufficientBalanceError is fatal only for the decision that caused it.
type InsufficientBalanceError struct {
	Token string
	Msg   string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: %s", e.Token, e.Msg)
}

// TransientError wraps network-level failures that are safe to retry with
// backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}
