// Package errors provides standardized error types and helpers for the docanchor codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrInternal indicates an internal system error
	ErrInternal = errors.New("internal error")
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")

	// ErrTargetNotFound indicates the target text is absent from every scanned paragraph
	ErrTargetNotFound = errors.New("target not found")
	// ErrEmptyAttachmentTarget indicates there is no run an annotation could wrap
	ErrEmptyAttachmentTarget = errors.New("no attachable location")
	// ErrIDCollision indicates a proposed annotation ID is already in use
	ErrIDCollision = errors.New("annotation id collision")
	// ErrInvariantViolation indicates a document invariant was broken
	ErrInvariantViolation = errors.New("invariant violation")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "part", "annotation", "snapshot")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a parsing or deserialization error
type ParseError struct {
	Format  string // Format being parsed (e.g., "XML", "zip", "plan")
	Path    string // File path or part name, if applicable
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// UnsupportedError represents an unsupported feature or format
type UnsupportedError struct {
	Feature string // Feature or format that is unsupported
	Reason  string // Why it's not supported
	Err     error  // Underlying error, if any
}

func (e *UnsupportedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported %s: %s", e.Feature, e.Reason)
	}
	return fmt.Sprintf("unsupported %s", e.Feature)
}

func (e *UnsupportedError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnsupported
}

// TargetNotFoundError reports a target substring that no scanned paragraph contains.
type TargetNotFoundError struct {
	Target    string // Text that was searched for
	Scanned   int    // Number of paragraphs scanned
	Paragraph int    // Paragraph index when a single paragraph was searched, -1 otherwise
}

func (e *TargetNotFoundError) Error() string {
	if e.Paragraph >= 0 {
		return fmt.Sprintf("target %q not found in paragraph %d", e.Target, e.Paragraph)
	}
	return fmt.Sprintf("target %q not found in %d paragraph(s)", e.Target, e.Scanned)
}

func (e *TargetNotFoundError) Unwrap() error {
	return ErrTargetNotFound
}

// EmptyAttachmentTargetError reports that no run was available to wrap.
type EmptyAttachmentTargetError struct {
	Target    string // Text that was searched for
	Paragraph int    // Paragraph index attempted, -1 if none
	Fallback  bool   // Whether the paragraph-level fallback was attempted
	Reason    string // Details
}

func (e *EmptyAttachmentTargetError) Error() string {
	mode := "precise"
	if e.Fallback {
		mode = "fallback"
	}
	if e.Paragraph >= 0 {
		return fmt.Sprintf("no attachable location for %q (%s, paragraph %d): %s", e.Target, mode, e.Paragraph, e.Reason)
	}
	return fmt.Sprintf("no attachable location for %q (%s): %s", e.Target, mode, e.Reason)
}

func (e *EmptyAttachmentTargetError) Unwrap() error {
	return ErrEmptyAttachmentTarget
}

// IDCollisionError reports an annotation ID that is already present in the document.
type IDCollisionError struct {
	ID int
}

func (e *IDCollisionError) Error() string {
	return fmt.Sprintf("annotation id %d already in use", e.ID)
}

func (e *IDCollisionError) Unwrap() error {
	return ErrIDCollision
}

// InvariantViolationError reports a broken document invariant.
type InvariantViolationError struct {
	Invariant string // Short invariant name, e.g. "text-preservation"
	Paragraph int    // Paragraph index, -1 if document-wide
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	if e.Paragraph >= 0 {
		return fmt.Sprintf("invariant %s violated in paragraph %d: %s", e.Invariant, e.Paragraph, e.Detail)
	}
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, path, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Path:    path,
		Message: message,
	}
}

// NewUnsupported creates an UnsupportedError
func NewUnsupported(feature, reason string) *UnsupportedError {
	return &UnsupportedError{
		Feature: feature,
		Reason:  reason,
	}
}

// NewInvariant creates an InvariantViolationError
func NewInvariant(invariant string, paragraph int, format string, args ...interface{}) *InvariantViolationError {
	return &InvariantViolationError{
		Invariant: invariant,
		Paragraph: paragraph,
		Detail:    fmt.Sprintf(format, args...),
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
