package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrAlreadyActive      = errors.New("membership already active")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidSignature   = errors.New("notification token mismatch")
)

// ConfigurationError reports a missing or malformed setting. Fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// ValidationError rejects a malformed intent before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// GatewayRejectedError is a well-formed error response from the gateway.
type GatewayRejectedError struct {
	Code    string
	Message string
	Details string
}

func (e *GatewayRejectedError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway rejected: code=%s message=%s details=%s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway rejected: code=%s message=%s", e.Code, e.Message)
}

// TransportError covers timeouts, refused connections and unparsable responses.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway transport (%s): %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// PartialTransitionError wraps a store failure inside a confirmation transition.
// The transaction carrying the transition has been rolled back when this is returned.
type PartialTransitionError struct {
	OrderID string
	Stage   string
	Cause   error
}

func (e *PartialTransitionError) Error() string {
	return fmt.Sprintf("confirmation order=%s stage=%s: %v", e.OrderID, e.Stage, e.Cause)
}

func (e *PartialTransitionError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is worth another attempt later.
func IsRetryable(err error) bool {
	var tErr *TransportError
	var pErr *PartialTransitionError
	return errors.As(err, &tErr) || errors.As(err, &pErr)
}
