// Package apperr defines the error kinds surfaced by the checkout pipeline.
// Callers match them with errors.As; the HTTP layer maps each kind to a
// status code.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports missing or malformed input. Not retryable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is returned when a conditional stock decrement
// matched no row.
type InsufficientStockError struct {
	ProductID int64
	Size      string
	Color     string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.Size != "" || e.Color != "" {
		return fmt.Sprintf("insufficient stock for product %d (%s/%s): requested %d",
			e.ProductID, e.Size, e.Color, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %d: requested %d", e.ProductID, e.Requested)
}

// SignatureVerificationError means the gateway callback signature did not
// match. The payment must not be trusted.
type SignatureVerificationError struct {
	GatewayOrderID string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("payment signature verification failed for gateway order %q", e.GatewayOrderID)
}

// GatewayError wraps a failed call to the payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// GatewayTimeoutError means the gateway never answered within the bounded
// wait. It is also a GatewayError: errors.As matches both, so callers that
// only care about gateway failures still see timeouts.
type GatewayTimeoutError struct {
	Op  string
	Err error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("gateway %s timed out: %v", e.Op, e.Err)
}

func (e *GatewayTimeoutError) Unwrap() error { return e.Err }

// As lets errors.As treat a timeout as a *GatewayError.
func (e *GatewayTimeoutError) As(target interface{}) bool {
	gw, ok := target.(**GatewayError)
	if !ok {
		return false
	}
	*gw = &GatewayError{Op: e.Op, Err: e.Err}
	return true
}

// NotificationError is logged and swallowed; it never reaches the buyer.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification via %s failed: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound builds a NotFoundError; id is formatted with %v.
func NotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// ConflictError reports a request that collides with current state, such as
// an illegal status transition or a duplicate submission.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }

func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Message }

// Is reports whether err has the same dynamic error kind as target.
// It only inspects the kind, not the fields.
func Is[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
