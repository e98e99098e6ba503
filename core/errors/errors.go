// Package errors provides standardized error types and helpers for the annotsv codebase.
//
// Structural decode errors (unknown layer, unknown feature, malformed row) are fatal for
// the document being read. Endpoint and truncation errors are reported as warnings and
// never abort a conversion.
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
	// ErrUnsupported indicates an unsupported operation or format
	ErrUnsupported = errors.New("unsupported")

	// ErrUnknownLayer indicates a header names a type missing from the type system
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrUnknownFeature indicates a header names a feature the layer does not declare
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrMalformedRow indicates a data row whose column count does not match the schema
	ErrMalformedRow = errors.New("malformed row")
	// ErrUnresolvedEndpoint indicates a relation address that matches no annotation
	ErrUnresolvedEndpoint = errors.New("unresolved relation endpoint")
	// ErrTruncatedDocument indicates input ended inside a sentence
	ErrTruncatedDocument = errors.New("truncated document")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "document", "type")
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
	Format  string // Format being parsed (e.g., "header", "type system", "config")
	Path    string // File path, if applicable
	Line    int    // 1-based line number, 0 if unknown
	Message string // Error details
	Err     error  // Underlying error, if any
}

func (e *ParseError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("failed to parse %s at %s:%d: %s", e.Format, e.Path, e.Line, e.Message)
	case e.Path != "":
		return fmt.Sprintf("failed to parse %s at %s: %s", e.Format, e.Path, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("failed to parse %s at line %d: %s", e.Format, e.Line, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidInput, e.Err}
	}
	return []error{ErrInvalidInput}
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

// UnknownLayerError is returned when a header declares a layer (or an AttachTo target)
// that the active type system does not define.
type UnknownLayerError struct {
	Layer  string // Layer name as written in the header
	Line   int    // 1-based header line number
	Reason string // Optional detail
}

func (e *UnknownLayerError) Error() string {
	msg := fmt.Sprintf("unknown layer %q", e.Layer)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *UnknownLayerError) Unwrap() error {
	return ErrUnknownLayer
}

// UnknownFeatureError is returned when a header lists a feature the layer lacks.
type UnknownFeatureError struct {
	Layer   string
	Feature string
	Line    int
}

func (e *UnknownFeatureError) Error() string {
	msg := fmt.Sprintf("feature %q is not declared on layer %q", e.Feature, e.Layer)
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *UnknownFeatureError) Unwrap() error {
	return ErrUnknownFeature
}

// MalformedRowError carries the offending raw line of a data row whose tab count does
// not match the schema.
type MalformedRowError struct {
	Line     int    // 1-based line number
	Content  string // Raw line content
	Expected int    // Expected number of tabs
	Got      int    // Actual number of tabs
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("line %d: expected %d tabs, found %d: %q", e.Line, e.Expected, e.Got, e.Content)
}

func (e *MalformedRowError) Unwrap() error {
	return ErrMalformedRow
}

// UnresolvedEndpointError describes a relation whose governor or dependent address
// matches nothing in its sentence. It is a warning value, not a fatal error.
type UnresolvedEndpointError struct {
	Layer   string // Relation layer name
	Role    string // "governor" or "dependent"
	Address string // Address as written in the source
	Line    int    // Line of the dependent row, 0 if unknown
}

func (e *UnresolvedEndpointError) Error() string {
	msg := fmt.Sprintf("%s %s of layer %q does not resolve", e.Role, e.Address, e.Layer)
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *UnresolvedEndpointError) Unwrap() error {
	return ErrUnresolvedEndpoint
}

// TruncatedDocumentError reports that input ended before a sentence boundary. The
// dangling sentence is closed at the last seen offset.
type TruncatedDocumentError struct {
	Sentence int // 1-based index of the sentence that was closed implicitly
	Offset   int // End offset used to close it
}

func (e *TruncatedDocumentError) Error() string {
	return fmt.Sprintf("input ended inside sentence %d, closed at offset %d", e.Sentence, e.Offset)
}

func (e *TruncatedDocumentError) Unwrap() error {
	return ErrTruncatedDocument
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

// IsFatal reports whether err must abort the decoding of a document. Warnings
// (unresolved endpoints, truncation) are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnresolvedEndpoint) && !errors.Is(err, ErrTruncatedDocument)
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
