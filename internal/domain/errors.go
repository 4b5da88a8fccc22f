// Package domain defines core types, interfaces, and errors for the analyst pipeline.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a validation failure. All kinds are retryable.
type ErrorKind string

// Validation failure kinds.
const (
	KindParseError       ErrorKind = "parse_error"
	KindSafetyViolation  ErrorKind = "safety_violation"
	KindUnknownReference ErrorKind = "unknown_reference"
)

// RetryBudgetExhaustedError is the terminal failure when every generation
// attempt was rejected by the validator.
type RetryBudgetExhaustedError struct {
	Attempts   int
	LastErrors []string
}

func (e *RetryBudgetExhaustedError) Error() string {
	return fmt.Sprintf("no valid query after %d attempts: %s", e.Attempts, strings.Join(e.LastErrors, "; "))
}

// ExecutionCategory classifies engine failures.
type ExecutionCategory string

// Execution failure categories.
const (
	ExecTimeout        ExecutionCategory = "timeout"
	ExecIO             ExecutionCategory = "io_error"
	ExecSyntax         ExecutionCategory = "syntax_error"
	ExecTableNotFound  ExecutionCategory = "table_not_found"
	ExecColumnNotFound ExecutionCategory = "column_not_found"
	ExecTypeMismatch   ExecutionCategory = "type_mismatch"
	ExecDivisionByZero ExecutionCategory = "division_by_zero"
	ExecOutOfMemory    ExecutionCategory = "out_of_memory"
	ExecCanceled       ExecutionCategory = "canceled"
	ExecUnknown        ExecutionCategory = "unknown"
)

// ExecutionError is a structured engine failure. It is terminal for a turn
// and is narrated to the user rather than raised.
type ExecutionError struct {
	Category ExecutionCategory `json:"category"`
	Message  string            `json:"message"`
	Hint     string            `json:"hint,omitempty"`
	Elapsed  time.Duration     `json:"elapsed"`
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// CatalogUnavailableError reports that every catalog source failed during a
// refresh. The accompanying snapshot is empty but usable.
type CatalogUnavailableError struct {
	Failures map[string]string // source name -> error
}

func (e *CatalogUnavailableError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Failures[name])
	}
	return "catalog unavailable: all sources failed (" + strings.Join(parts, "; ") + ")"
}
