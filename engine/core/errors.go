package core

import (
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Database errors
	ErrorCodeDatabaseUnavailable ErrorCode = "DATABASE_UNAVAILABLE"
	ErrorCodeExecutionFailed     ErrorCode = "DATABASE_EXECUTION_FAILED"
	ErrorCodeConnection          ErrorCode = "NEO4J_CONNECTION_ERROR"
	ErrorCodeTransaction         ErrorCode = "NEO4J_TRANSACTION_FAILED"

	// Template errors
	ErrorCodeUnknownTemplate  ErrorCode = "UNKNOWN_TEMPLATE"
	ErrorCodeTemplateRejected ErrorCode = "TEMPLATE_REJECTED"
	ErrorCodeParameterInvalid ErrorCode = "PARAMETER_VALIDATION_FAILED"

	// Protocol errors
	ErrorCodeUnknownTool     ErrorCode = "UNKNOWN_TOOL"
	ErrorCodeUnknownResource ErrorCode = "UNKNOWN_RESOURCE"
	ErrorCodeUnknownPrompt   ErrorCode = "UNKNOWN_PROMPT"

	// Knowledge errors
	ErrorCodeEntityNotFound ErrorCode = "ENTITY_NOT_FOUND"

	// Schema errors
	ErrorCodeSchemaSetupFailed ErrorCode = "SCHEMA_SETUP_FAILED"

	// Configuration errors
	ErrorCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrorCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
	ErrorCodeConfigWrite    ErrorCode = "CONFIG_WRITE_FAILED"

	// Validation errors
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// Error represents a structured error with code and metadata
type Error struct {
	Err      error          `json:"error"`
	Code     ErrorCode      `json:"code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewError creates a new structured error for domain boundaries
func NewError(err error, code ErrorCode, metadata map[string]any) *Error {
	return &Error{
		Err:      err,
		Code:     code,
		Metadata: metadata,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if len(e.Metadata) > 0 {
		return fmt.Sprintf("[%s] %v (metadata: %v)", e.Code, e.Err, e.Metadata)
	}
	return fmt.Sprintf("[%s] %v", e.Code, e.Err)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// CodeOf extracts the error code from err if it is a structured Error,
// walking the wrap chain. Returns empty string when no code is attached.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
