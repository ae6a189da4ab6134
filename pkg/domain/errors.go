package domain

import "errors"

// Common domain errors
var (
	ErrOperationNotFound  = errors.New("operation not found in registry")
	ErrInvalidGraph       = errors.New("graph failed composition validation")
	ErrReadOnlyVariable   = errors.New("cannot modify read-only variable")
	ErrMissingParameter   = errors.New("required parameter could not be resolved")
	ErrAdmissionDenied    = errors.New("operation denied by policy")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrChainIntegrity     = errors.New("audit chain integrity violation")
	ErrExecutionCancelled = errors.New("execution cancelled")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
