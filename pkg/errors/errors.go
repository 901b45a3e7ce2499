// Package errors provides custom error types for the kstartup ingestion pipeline.
// Typed errors carry enough context to decide whether a failure is retryable,
// fatal for the current run, or absorbed into run statistics.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// New returns an error that formats as the given text.
// It's an alias for the standard library errors.New for convenience.
var New = errors.New

// Common sentinel errors for the ingestion pipeline
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrAPIKeyRequired indicates that a service key is required but not provided
	ErrAPIKeyRequired = errors.New("API key required")

	// ErrAPIKeyInvalid indicates that upstream rejected the service key
	ErrAPIKeyInvalid = errors.New("API key invalid")

	// ErrUpstreamUnavailable indicates a transient upstream failure (5xx, reset)
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited indicates that the upstream rate limit has been exceeded
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled
	ErrCanceled = errors.New("operation canceled")

	// ErrMalformedEnvelope indicates a page response broke the envelope contract
	ErrMalformedEnvelope = errors.New("malformed response envelope")

	// ErrPageBoundExceeded indicates the page safety bound fired before exhaustion
	ErrPageBoundExceeded = errors.New("page bound exceeded")

	// ErrAlreadyRunning indicates a run for the same source is still in progress
	ErrAlreadyRunning = errors.New("ingestion already running")
)

// NotFoundError represents an error when a resource is not found
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// APIError represents a non-success response from the upstream API.
type APIError struct {
	Source     string
	StatusCode int
	Message    string
	Endpoint   string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Source, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error from %s: %s", e.Source, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *APIError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return target == ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return target == ErrAPIKeyInvalid
	case e.StatusCode >= 500:
		return target == ErrUpstreamUnavailable
	}
	return false
}

// NewAPIError creates a new APIError
func NewAPIError(source string, statusCode int, message string) *APIError {
	return &APIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
	}
}

// EnvelopeError reports a page response whose top-level shape is unusable.
type EnvelopeError struct {
	Source  string
	Page    int
	Message string
	Err     error
}

// Error implements the error interface
func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope from %s page %d: %s", e.Source, e.Page, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *EnvelopeError) Is(target error) bool {
	return target == ErrMalformedEnvelope
}

// NewEnvelopeError creates a new EnvelopeError
func NewEnvelopeError(source string, page int, message string, err error) *EnvelopeError {
	return &EnvelopeError{Source: source, Page: page, Message: message, Err: err}
}

// PageBoundError is returned when a source still reports data after max pages.
type PageBoundError struct {
	Source   string
	MaxPages int
	Total    int
	Yielded  int
}

// Error implements the error interface
func (e *PageBoundError) Error() string {
	return fmt.Sprintf("source %s exceeded page bound %d (yielded %d of declared %d)",
		e.Source, e.MaxPages, e.Yielded, e.Total)
}

// Is implements errors.Is support
func (e *PageBoundError) Is(target error) bool {
	return target == ErrPageBoundExceeded
}

// ConfigError represents a configuration error
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{
		Component: component,
		Message:   message,
		Err:       err,
	}
}

// IngestError wraps an error about the ingestion run of a source.
type IngestError struct {
	Source string
	RunID  string
	State  string
	Err    error
}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("ingestion of %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("ingestion of %s (run %s, %s): %v", e.Source, e.RunID, e.State, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *IngestError) Unwrap() error {
	return e.Err
}

// Helper functions for error checking

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsAPIKeyError checks if an error is related to API keys
func IsAPIKeyError(err error) bool {
	return errors.Is(err, ErrAPIKeyRequired) || errors.Is(err, ErrAPIKeyInvalid)
}

// IsRateLimited checks if an error is a rate limit error
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled checks if an error is a cancellation error
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsUpstreamUnavailable checks if an error indicates a transient upstream outage
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}

// IsFatal reports whether err ends a run immediately without retry.
// Authentication failures, broken envelopes, and the page bound are fatal.
func IsFatal(err error) bool {
	return IsAPIKeyError(err) ||
		errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrPageBoundExceeded)
}

// IsRetryable reports whether a page request that failed with err may be retried.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) || IsCanceled(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return IsTimeout(err) || IsUpstreamUnavailable(err)
}

// ParseError represents an error when parsing data formats
type ParseError struct {
	Format  string // "json", "yaml", "date", etc.
	File    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("parse error in %s file %s: %s", e.Format, e.File, e.Message)
	}
	return fmt.Sprintf("%s parse error: %s", e.Format, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(format, file string, message string, err error) *ParseError {
	return &ParseError{
		Format:  format,
		File:    file,
		Message: message,
		Err:     err,
	}
}

// IOError represents an error during I/O operations
type IOError struct {
	Operation string // "read", "write", "open", "close"
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("IO error during %s of %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("IO error during %s: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError
func NewIOError(operation, path string, err error) *IOError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   message,
		Err:       err,
	}
}

// ResourceError represents an error during resource operations
type ResourceError struct {
	Operation string // "upsert", "get", "open", "migrate"
	Resource  string // "record", "run", "mismatch", "store"
	ID        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to %s %s %s: %s", e.Operation, e.Resource, e.ID, e.Message)
	}
	return fmt.Sprintf("failed to %s %s: %s", e.Operation, e.Resource, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *ResourceError) Unwrap() error {
	return e.Err
}

// NewResourceError creates a new ResourceError
func NewResourceError(operation, resource, id string, err error) *ResourceError {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ResourceError{
		Operation: operation,
		Resource:  resource,
		ID:        id,
		Message:   message,
		Err:       err,
	}
}

// AuthenticationError represents a missing or rejected service key
type AuthenticationError struct {
	Source  string
	Method  string // "query", "header"
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthenticationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("authentication error for %s (%s): %s", e.Source, e.Method, e.Message)
	}
	return fmt.Sprintf("authentication error (%s): %s", e.Method, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAPIKeyRequired || target == ErrAPIKeyInvalid
}

// NewAuthenticationError creates a new AuthenticationError
func NewAuthenticationError(source, method, message string, err error) *AuthenticationError {
	return &AuthenticationError{
		Source:  source,
		Method:  method,
		Message: message,
		Err:     err,
	}
}

// TimeoutError represents an operation timeout
type TimeoutError struct {
	Operation string
	Duration  string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Duration != "" {
		return fmt.Sprintf("operation %s timed out after %s: %s", e.Operation, e.Duration, e.Message)
	}
	return fmt.Sprintf("operation %s timed out: %s", e.Operation, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a new TimeoutError
func NewTimeoutError(operation, duration, message string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Message:   message,
	}
}

// Helper wrapping functions for common patterns

// WrapIO wraps an error as an IOError
func WrapIO(operation, path string, err error) error {
	if err == nil {
		return nil
	}
	return NewIOError(operation, path, err)
}

// WrapResource wraps an error as a ResourceError
func WrapResource(operation, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	return NewResourceError(operation, resource, id, err)
}

// WrapParse wraps an error as a ParseError
func WrapParse(format, file string, err error) error {
	if err == nil {
		return nil
	}
	return NewParseError(format, file, err.Error(), err)
}
