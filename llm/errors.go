package llm

import (
	"errors"
)

// Error represents a provider-neutral gateway error.
type Error struct {
	Type        ErrorType
	Message     string
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeInvalidInput      ErrorType = "invalid_input"
	ErrorTypeInvalidMessages   ErrorType = "invalid_messages"
	ErrorTypeUnsupportedVendor ErrorType = "unsupported_vendor"
	ErrorTypeMalformedChunk    ErrorType = "malformed_chunk"
	ErrorTypeSessionNotFound   ErrorType = "session_not_found"
	ErrorTypeNotImplemented    ErrorType = "not_implemented"
	ErrorTypeTransport         ErrorType = "transport"
	ErrorTypeToolExecution     ErrorType = "tool_execution"
	ErrorTypePersistence       ErrorType = "persistence"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

func isType(err error, t ErrorType) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Type == t
	}
	return false
}

// IsInvalidInput checks whether an error was rejected before any I/O.
// Invalid message lists count as invalid input too.
func IsInvalidInput(err error) bool {
	return isType(err, ErrorTypeInvalidInput) || isType(err, ErrorTypeInvalidMessages) ||
		isType(err, ErrorTypeUnsupportedVendor) || isType(err, ErrorTypeSessionNotFound)
}

// IsUnsupportedVendor checks whether an error names an unrecognized vendor.
func IsUnsupportedVendor(err error) bool {
	return isType(err, ErrorTypeUnsupportedVendor)
}

// IsMalformedChunk checks whether an error marks an unparseable vendor chunk.
// These are non-fatal per chunk; the translator drops the chunk.
func IsMalformedChunk(err error) bool {
	return isType(err, ErrorTypeMalformedChunk)
}

// IsSessionNotFound checks whether a session reference failed to resolve.
func IsSessionNotFound(err error) bool {
	return isType(err, ErrorTypeSessionNotFound)
}

// IsNotImplemented checks whether a (vendor, operation) pair has no
// registered implementation.
func IsNotImplemented(err error) bool {
	return isType(err, ErrorTypeNotImplemented)
}

// IsTransport checks whether an error originated in the vendor transport.
func IsTransport(err error) bool {
	return isType(err, ErrorTypeTransport)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypeInvalidInput, Message: message, ProviderErr: providerErr}
}

// NewInvalidMessagesError creates a new invalid messages error.
func NewInvalidMessagesError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypeInvalidMessages, Message: message, ProviderErr: providerErr}
}

// NewUnsupportedVendorError creates an error for an unrecognized vendor.
func NewUnsupportedVendorError(vendor string) *Error {
	return &Error{Type: ErrorTypeUnsupportedVendor, Message: "unsupported vendor: " + vendor}
}

// NewMalformedChunkError creates an error for an unparseable vendor chunk.
func NewMalformedChunkError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypeMalformedChunk, Message: message, ProviderErr: providerErr}
}

// NewSessionNotFoundError creates an error for an unresolvable session reference.
func NewSessionNotFoundError(sessionRef string) *Error {
	return &Error{Type: ErrorTypeSessionNotFound, Message: "session not found: " + sessionRef}
}

// NewNotImplementedError creates an error for an unregistered (vendor, operation) pair.
func NewNotImplementedError(message string) *Error {
	return &Error{Type: ErrorTypeNotImplemented, Message: message}
}

// NewTransportError creates a new transport error.
func NewTransportError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypeTransport, Message: message, ProviderErr: providerErr}
}

// NewToolExecutionError creates a new tool execution error.
func NewToolExecutionError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypeToolExecution, Message: message, ProviderErr: providerErr}
}

// NewPersistenceError creates a new persistence error.
func NewPersistenceError(message string, providerErr error) *Error {
	return &Error{Type: ErrorTypePersistence, Message: message, ProviderErr: providerErr}
}
