package listing

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrTransport        = errors.New("transport error")
	ErrDecode           = errors.New("decode error")
)

// Static errors for err113 compliance.
var (
	ErrFetchCancelled     = errors.New("fetch cancelled")
	ErrViewClosed         = errors.New("listing view closed")
	ErrNoPreviousPage     = errors.New("no previous page")
	ErrNoMoreItems        = errors.New("no more items")
	ErrNilQuery           = errors.New("query descriptor is nil")
	ErrNilDefaults        = errors.New("defaults are nil")
	ErrUnsupportedSource  = errors.New("unsupported apply source")
	ErrEmptyBody          = errors.New("empty response body")
	ErrUnexpectedBodyType = errors.New("response body is neither an array nor a data envelope")
	ErrMissingRowID       = errors.New("row has no numeric id")
)

// InvalidParameterError is returned synchronously by QueryDescriptor validators.
type InvalidParameterError struct {
	Field  string
	Value  interface{}
	Reason string
}

// Error implements the error interface.
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid value %v for parameter %q: %s", e.Value, e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidParameter.
func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func invalidParameter(field string, value interface{}, format string, args ...interface{}) *InvalidParameterError {
	return &InvalidParameterError{
		Field:  field,
		Value:  value,
		Reason: fmt.Sprintf(format, args...),
	}
}

// TransportError represents a failed request or an unsuccessful HTTP status.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// DecodeError represents a response body or header that could not be parsed.
type DecodeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// IsInvalidParameter checks if the error is a validation error.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsDecode checks if the error is a decode error.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecode)
}

// StatusCode extracts the HTTP status from a TransportError, or 0.
func StatusCode(err error) int {
	transportErr := &TransportError{}
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode
	}

	return 0
}
