package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a DomainError for transport mapping.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeEligibility       ErrorCode = "ELIGIBILITY_ERROR"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeInvalidState      ErrorCode = "ILLEGAL_TRANSITION"
	CodeAlreadyProcessed  ErrorCode = "ALREADY_PROCESSED"
	CodeContention        ErrorCode = "CONTENTION"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeForbidden         ErrorCode = "FORBIDDEN"
)

// DomainError is the structured error returned by every use case.
// Details carries the machine-readable payload (missing requirements,
// conflicting intervals, current/requested state) for the caller.
type DomainError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *DomainError) Unwrap() error { return e.cause }

// Retryable reports whether the caller may safely retry the operation.
func (e *DomainError) Retryable() bool { return e.Code == CodeContention }

// MissingRequirement names one unmet eligibility condition.
type MissingRequirement struct {
	ResourceID string `json:"resource_id"`
	Type       string `json:"type"` // "role" or "certification"
	Code       string `json:"code"`
}

// StateChange is the payload of an illegal transition.
type StateChange struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
}

// StockShortfall is the payload of an insufficient stock error.
type StockShortfall struct {
	ResourceID string `json:"resource_id"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

func NewValidationError(msg string) *DomainError {
	return &DomainError{Code: CodeValidation, Message: msg}
}

// NewEligibilityError reports a role or certification gate failure.
func NewEligibilityError(missing []MissingRequirement) *DomainError {
	return &DomainError{
		Code:    CodeEligibility,
		Message: "requester does not meet the resource requirements",
		Details: missing,
	}
}

func NewConflictError(msg string) *DomainError {
	return &DomainError{Code: CodeConflict, Message: msg}
}

// NewIntervalConflictError reports overlapping blocking intervals; conflicts is
// passed through so the caller can suggest alternatives.
func NewIntervalConflictError(conflicts any) *DomainError {
	return &DomainError{
		Code:    CodeConflict,
		Message: "requested interval overlaps a blocking interval",
		Details: conflicts,
	}
}

func NewInsufficientStockError(resourceID string, requested, available int) *DomainError {
	return &DomainError{
		Code:    CodeInsufficientStock,
		Message: fmt.Sprintf("resource %s cannot cover quantity %d (available %d)", resourceID, requested, available),
		Details: StockShortfall{ResourceID: resourceID, Requested: requested, Available: available},
	}
}

// NewInvalidStateError reports a state change that is not reachable from current.
func NewInvalidStateError(current, requested string) *DomainError {
	return &DomainError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("cannot transition from %s to %s", current, requested),
		Details: StateChange{Current: current, Requested: requested},
	}
}

// NewPolicyError is an illegal transition rejected by policy rather than by the state table.
func NewPolicyError(current, requested, reason string) *DomainError {
	return &DomainError{
		Code:    CodeInvalidState,
		Message: reason,
		Details: StateChange{Current: current, Requested: requested},
	}
}

func NewAlreadyProcessedError(entity, action string) *DomainError {
	return &DomainError{
		Code:    CodeAlreadyProcessed,
		Message: fmt.Sprintf("%s already %s", entity, action),
	}
}

// NewContentionError wraps a lock-wait or timeout failure. No state was committed.
func NewContentionError(cause error) *DomainError {
	return &DomainError{
		Code:    CodeContention,
		Message: "resource is busy, retry with backoff",
		cause:   cause,
	}
}

func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func NewForbiddenError(msg string) *DomainError {
	return &DomainError{Code: CodeForbidden, Message: msg}
}

// AsDomainError extracts a *DomainError from the chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	de, ok := AsDomainError(err)
	return ok && de.Code == code
}

// IsRetryable reports whether err is a retryable contention error.
func IsRetryable(err error) bool {
	de, ok := AsDomainError(err)
	return ok && de.Retryable()
}
