// Package apperrors classifies the error taxonomy every exchange adapter
// and internal component maps onto (see the error handling design in
// SPEC_FULL.md §1).
package apperrors

import "errors"

// Sentinel errors used for errors.Is comparisons against the exchange's raw
// error codes once they have been mapped.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrTimeout               = errors.New("timeout")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
	ErrCircuitBreakerBlocked = errors.New("circuit breaker blocked trade")
	ErrReconciliation        = errors.New("unresolvable reconciliation drift")
)

// Kind names one of the abstract error kinds from the taxonomy.
type Kind string

const (
	KindAuthentication     Kind = "authentication"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInvalidOrder       Kind = "invalid_order"
	KindOrderNotFound      Kind = "order_not_found"
	KindRateLimit          Kind = "rate_limit"
	KindNetwork            Kind = "network"
	KindCircuitBreaker     Kind = "circuit_breaker_blocked"
	KindReconciliation     Kind = "reconciliation"
)

// Error wraps a classified cause with the component/exchange that raised it.
type Error struct {
	Kind   Kind
	Source string
	Cause  error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return e.Source + ": " + e.Cause.Error()
	}
	return e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified Error.
func New(kind Kind, source string, cause error) *Error {
	return &Error{Kind: kind, Source: source, Cause: cause}
}

// IsRetryable reports whether the retry policy (C1) should re-attempt the
// call that produced err. Rate-limit, network, and timeout errors retry;
// authentication, invalid-order, and insufficient-funds errors do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classified *Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case KindRateLimit, KindNetwork:
			return true
		default:
			return false
		}
	}
	switch {
	case errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrSystemOverload),
		errors.Is(err, ErrExchangeMaintenance):
		return true
	default:
		return false
	}
}
