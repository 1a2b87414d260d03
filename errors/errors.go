// Package errors provides the classified error model used across the platt backend.
// Every error that crosses a component boundary is either transient (retry or
// wait), invalid (bad input, do not retry) or fatal (stop). The domain error
// kinds of the viewer backend are sentinels that carry a fixed class.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or requests
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Domain error kinds
var (
	// ErrMalformedBinary reports a blob whose size does not fit its layout.
	ErrMalformedBinary = errors.New("malformed binary")
	// ErrMissingObject reports an object absent from the index or never delivered.
	ErrMissingObject = errors.New("missing object")
	// ErrProxyTimeout reports a file or index that did not arrive in time.
	ErrProxyTimeout = errors.New("proxy timeout")
	// ErrProxyUnavailable reports that no usable sub-connection could be opened.
	ErrProxyUnavailable = errors.New("proxy unavailable")
	// ErrUnknownElementType reports an element tag outside the registry.
	ErrUnknownElementType = errors.New("unknown element type")
	// ErrHashMismatch reports a delivered sha1 that disagrees with the index.
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrInvalidSelection reports a nonexistent timestep, field or element set.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Lifecycle and infrastructure errors
var (
	ErrAlreadyStarted  = errors.New("component already started")
	ErrNotStarted      = errors.New("component not started")
	ErrShuttingDown    = errors.New("component is shutting down")
	ErrConnectionLost  = errors.New("connection lost")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrNotFound        = errors.New("not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrFrameRejected   = errors.New("frame rejected by peer")
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf returns the fixed class of a domain sentinel, if err carries one.
func classOf(err error) (ErrorClass, bool) {
	switch {
	case errors.Is(err, ErrProxyTimeout),
		errors.Is(err, ErrProxyUnavailable),
		errors.Is(err, ErrHashMismatch),
		errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrFrameRejected):
		return ErrorTransient, true
	case errors.Is(err, ErrMalformedBinary),
		errors.Is(err, ErrMissingObject),
		errors.Is(err, ErrUnknownElementType),
		errors.Is(err, ErrInvalidSelection),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrFrameTooLarge),
		errors.Is(err, ErrUnexpectedReply):
		return ErrorInvalid, true
	case errors.Is(err, ErrInvalidConfig):
		return ErrorFatal, true
	}
	return ErrorTransient, false
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "broken pipe", "eof", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

// newClassified creates a new classified error
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Kind attaches a domain sentinel to a detail message, keeping both visible
// to errors.Is and to the rendered message.
func Kind(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// KindOf returns the domain sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrMalformedBinary,
		ErrMissingObject,
		ErrProxyTimeout,
		ErrProxyUnavailable,
		ErrUnknownElementType,
		ErrHashMismatch,
		ErrInvalidSelection,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// WrapMalformed reports undecodable binary data as an invalid error.
func WrapMalformed(component, method, format string, args ...any) error {
	return WrapInvalid(Kind(ErrMalformedBinary, format, args...), component, method, "decode")
}

// WrapMissing reports an object that is not indexed or was not delivered.
func WrapMissing(component, method, format string, args ...any) error {
	return WrapInvalid(Kind(ErrMissingObject, format, args...), component, method, "locate object")
}

// WrapTimeout reports an object or index that did not arrive in time.
func WrapTimeout(component, method, format string, args ...any) error {
	return WrapTransient(Kind(ErrProxyTimeout, format, args...), component, method, "await proxy")
}

// WrapSelection reports a request for a timestep, field or element set that
// does not exist.
func WrapSelection(component, method, format string, args ...any) error {
	return WrapInvalid(Kind(ErrInvalidSelection, format, args...), component, method, "select")
}
