// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrTokenExpired      = errors.New("access token expired")
	ErrMarketClosed      = errors.New("market is closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderInFlight     = errors.New("order already in flight for symbol")
	ErrOrderUnconfirmed  = errors.New("order not confirmed within poll window")
	ErrPositionNotFound  = errors.New("position not found")
	ErrMaxPositions      = errors.New("maximum position count reached")
	ErrDailyLossLimit    = errors.New("daily loss limit reached")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrJournalClosed     = errors.New("journal is closed")
)

// Kind classifies a gateway failure and drives the retry policy.
type Kind int

const (
	// KindTransient covers timeouts and connection resets. Retryable.
	KindTransient Kind = iota
	// KindRateLimited is the remote per-second call quota. Retryable.
	KindRateLimited
	// KindAuthExpired means the credential was rejected. One silent
	// refresh-and-retry, then escalation to KindFatal.
	KindAuthExpired
	// KindRejected is a remote business-rule rejection. Never retried.
	KindRejected
	// KindFatal is a malformed request or unusable configuration.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthExpired:
		return "auth_expired"
	case KindRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// Retryable reports whether the gateway retry loop may re-dispatch.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// GatewayError is a classified failure from the remote broker API.
type GatewayError struct {
	Kind    Kind
	Code    string // remote error code, when present
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a new GatewayError.
func NewGatewayError(kind Kind, code, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors are treated as transient.
func KindOf(err error) Kind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindTransient
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderRef string
	Code     string
	Action   string
	Reason   string
	Err      error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderRef, e.Action, e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderRef, e.Action, e.Code, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderRef, code, action, reason string, err error) *OrderError {
	return &OrderError{OrderRef: orderRef, Code: code, Action: action, Reason: reason, Err: err}
}

// RiskError represents a pre-trade risk check failure.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{Rule: rule, Current: current, Limit: limit, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
