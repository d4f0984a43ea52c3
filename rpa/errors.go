package rpa

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates malformed input or a missing required field.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown bot, workflow, or task id.
	ErrNotFound = errors.New("not found")

	// ErrCompliance indicates a workflow failed an industry compliance rule.
	ErrCompliance = errors.New("compliance error")

	// ErrConfiguration indicates a step is missing configuration it needs to run.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvider indicates an external automation backend failure.
	ErrProvider = errors.New("provider error")
)

// NewValidationError creates a new error that wraps ErrValidation.
func NewValidationError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

// NewNotFoundError creates a new error that wraps ErrNotFound.
// Kind is the type of thing that was not found, e.g. "bot".
func NewNotFoundError(kind, id string) error {
	return fmt.Errorf("%w: %s: %s", ErrNotFound, kind, id)
}

// NewConfigurationError creates a new error that wraps ErrConfiguration.
func NewConfigurationError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, a...))
}

// ComplianceError is returned when a workflow does not satisfy the
// compliance rules of an industry.
type ComplianceError struct {
	Industry string
	// Missing holds the required flags the workflow did not set.
	Missing []string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf(
		"%s: industry %s: missing required settings: %s",
		ErrCompliance, e.Industry, strings.Join(e.Missing, ", "),
	)
}

// Is reports whether target is ErrCompliance.
func (e *ComplianceError) Is(target error) bool {
	return target == ErrCompliance
}

// ProviderError is an error from an external automation backend.
type ProviderError struct {
	Provider   ProviderKind
	Op         string
	StatusCode int

	// Transient errors may succeed if retried.
	Transient bool

	Err error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(ErrProvider.Error())
	b.WriteString(": ")
	b.WriteString(string(e.Provider))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProvider.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// IsRetryable reports whether a step that failed with err may be attempted again.
// Validation, configuration, compliance and not found errors are never
// retryable. Provider errors are retryable only when transient. Context
// cancellation is not retryable. All other errors are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrCompliance) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Transient
	}
	return true
}
