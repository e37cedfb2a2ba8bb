// Package errors provides the error taxonomy shared by the converter,
// the command-line tool and the upload service.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for annotation validation failures.
var (
	// ErrMissingField indicates a required XML field is absent or has the wrong type
	ErrMissingField = errors.New("missing field")
	// ErrUnknownLabel indicates an object name that is not in the label registry
	ErrUnknownLabel = errors.New("unknown label")
	// ErrInvalidGeometry indicates a bounding box with non-positive width or height
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrMalformedIdentifier indicates no digit run was found for numeric image ids
	ErrMalformedIdentifier = errors.New("malformed identifier")
)

// Sentinel errors for everything around the conversion.
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
)

// MissingFieldError names the field that could not be read.
type MissingFieldError struct {
	Field  string // Slash separated path of the field, e.g. "size/width"
	Reason string // Why the value was rejected, empty when absent
}

func (e *MissingFieldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("missing field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing field %s", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// UnknownLabelError carries the object name that failed the registry lookup.
type UnknownLabelError struct {
	Label string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown label %q", e.Label)
}

func (e *UnknownLabelError) Unwrap() error {
	return ErrUnknownLabel
}

// InvalidGeometryError carries the source box that failed validation.
type InvalidGeometryError struct {
	XMin, YMin, XMax, YMax int
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid box (%d, %d, %d, %d): xmax and ymax must exceed xmin and ymin",
		e.XMin, e.YMin, e.XMax, e.YMax)
}

func (e *InvalidGeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

// MalformedIdentifierError carries the file stem that has no digit run.
type MalformedIdentifierError struct {
	Stem   string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed image identifier %q: %s", e.Stem, e.Reason)
	}
	return fmt.Sprintf("malformed image identifier %q: no digits found", e.Stem)
}

func (e *MalformedIdentifierError) Unwrap() error {
	return ErrMalformedIdentifier
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "job", "annotation file")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Unwrap exposes both ErrNotFound and the underlying cause.
func (e *NotFoundError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrNotFound, e.Err}
	}
	return []error{ErrNotFound}
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
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
	Format  string // Format being parsed (e.g., "XML", "labels")
	Path    string // File path, if applicable
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

// Helper functions for creating common errors

// NewMissingField creates a MissingFieldError
func NewMissingField(field, reason string) *MissingFieldError {
	return &MissingFieldError{Field: field, Reason: reason}
}

// NewUnknownLabel creates an UnknownLabelError
func NewUnknownLabel(label string) *UnknownLabelError {
	return &UnknownLabelError{Label: label}
}

// NewInvalidGeometry creates an InvalidGeometryError
func NewInvalidGeometry(xmin, ymin, xmax, ymax int) *InvalidGeometryError {
	return &InvalidGeometryError{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
}

// NewMalformedIdentifier creates a MalformedIdentifierError
func NewMalformedIdentifier(stem, reason string) *MalformedIdentifierError {
	return &MalformedIdentifierError{Stem: stem, Reason: reason}
}

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

// Code returns a stable upper-case identifier for err, used in API error
// envelopes and CLI summaries.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingField):
		return "MISSING_FIELD"
	case errors.Is(err, ErrUnknownLabel):
		return "UNKNOWN_LABEL"
	case errors.Is(err, ErrInvalidGeometry):
		return "INVALID_GEOMETRY"
	case errors.Is(err, ErrMalformedIdentifier):
		return "MALFORMED_IDENTIFIER"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "PARSE_ERROR"
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return "IO_ERROR"
	}
	if errors.Is(err, ErrInvalidInput) {
		return "INVALID_INPUT"
	}
	return "INTERNAL"
}

// IsValidation reports whether err is one of the four annotation
// validation failures.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownLabel) ||
		errors.Is(err, ErrInvalidGeometry) ||
		errors.Is(err, ErrMalformedIdentifier)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
