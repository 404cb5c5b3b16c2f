package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeInputRejection ErrorType = "input_rejection"
	ErrTypeSchema         ErrorType = "schema"
	ErrTypeGeneration     ErrorType = "generation"
	ErrTypePostValidation ErrorType = "post_validation"
	ErrTypeCorrection     ErrorType = "correction"
	ErrTypeNotFound       ErrorType = "not_found"
	ErrTypeValidation     ErrorType = "validation"
	ErrTypeConfig         ErrorType = "config"
	ErrTypeDatabase       ErrorType = "database"
	ErrTypeInternal       ErrorType = "internal"
)

// Reason is the machine-readable cause of a rejection or failure.
type Reason string

const (
	ReasonNone Reason = ""

	// Input rejection
	ReasonEmptyInput               Reason = "EmptyInput"
	ReasonTooLong                  Reason = "TooLong"
	ReasonInjectionPatternDetected Reason = "InjectionPatternDetected"
	ReasonMutatingKeywordDetected  Reason = "MutatingKeywordDetected"
	ReasonRateLimitExceeded        Reason = "RateLimitExceeded"

	// Schema
	ReasonUnknownTable  Reason = "UnknownTable"
	ReasonUnknownColumn Reason = "UnknownColumn"

	// Generation
	ReasonUnsupportedAggregation Reason = "UnsupportedAggregation"
	ReasonUnsafeLiteral          Reason = "UnsafeLiteral"
	ReasonInvalidAlias           Reason = "InvalidAlias"
	ReasonInvalidOrderDirection  Reason = "InvalidOrderDirection"
	ReasonInvalidLimit           Reason = "InvalidLimit"

	// Post-validation
	ReasonNotASelectStatement Reason = "NotASelectStatement"
	ReasonDisallowedSchema    Reason = "DisallowedSchema"

	// Correction
	ReasonCorrectionExhausted  Reason = "CorrectionExhausted"
	ReasonUnresolvedIdentifier Reason = "UnresolvedIdentifier"

	ReasonInternalInvariant Reason = "InternalInvariant"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type    ErrorType
	Reason  Reason
	Message string
	// Identifier is the offending table or column name for schema errors.
	Identifier string
	// Detail carries the rule id or keyword that triggered a rejection.
	Detail      string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	prefix := string(e.Type)
	if e.Reason != ReasonNone {
		prefix = fmt.Sprintf("%s(%s)", e.Type, e.Reason)
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithReason sets the reason code
func (e *Error) WithReason(reason Reason) *Error {
	e.Reason = reason
	return e
}

// WithIdentifier records the identifier the error is about
func (e *Error) WithIdentifier(identifier string) *Error {
	e.Identifier = identifier
	return e
}

// WithDetail records the rule id or keyword behind the error
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Reject creates an input rejection error with the given reason and detail
func Reject(reason Reason, detail, message string) *Error {
	return &Error{
		Type:    ErrTypeInputRejection,
		Reason:  reason,
		Message: message,
		Detail:  detail,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// IsReason checks if an error carries a specific reason code
func IsReason(err error, reason Reason) bool {
	return GetReason(err) == reason
}

// GetReason returns the outermost reason code found in the error chain
func GetReason(err error) Reason {
	for err != nil {
		var structErr *Error
		if !errors.As(err, &structErr) {
			return ReasonNone
		}

		if structErr.Reason != ReasonNone {
			return structErr.Reason
		}

		err = structErr.Cause
	}

	return ReasonNone
}

// As finds the first structured error in the chain
func As(err error) (*Error, bool) {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr, true
	}

	return nil, false
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}
