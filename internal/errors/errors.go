// Package errors provides structured error types shared across daybook services.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrConflict     = errors.New("conflict")
	ErrTimeout      = errors.New("operation timed out")
	ErrUnavailable  = errors.New("service unavailable")
)

// ValidationError carries per-field validation failures for 400 responses.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "validation failed: " + strings.Join(names, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, problem string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: problem}}
}

// NotFoundError reports a missing resource using only its kind.
// Ownership failures use this too so responses never reveal that a
// resource exists under another account.
type NotFoundError struct {
	Kind string
}

func (e *NotFoundError) Error() string { return e.Kind + " not found" }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound creates a not-found error for the given resource kind ("Task", "Conversation", ...).
func NotFound(kind string) *NotFoundError {
	return &NotFoundError{Kind: kind}
}

// RateLimitError is returned when a caller exhausts its request budget.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// UpstreamError represents a failure from an external API call (AI provider, GitHub, Slack).
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Throttled reports whether the upstream service rejected us for rate reasons.
// Distinguishes "upstream throttled us" from "we throttled the caller" in
// logs and response mapping.
func (e *UpstreamError) Throttled() bool { return e.StatusCode == 429 }

// NewUpstreamError creates a new upstream API error.
func NewUpstreamError(service string, statusCode int, message string) *UpstreamError {
	return &UpstreamError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch upErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
