// Package errors defines the structured error taxonomy used across the menu
// engine. Every per-line, per-binding, and per-request failure is represented
// as a MenuError carrying a category, a stable code, and a recoverability
// flag; recoverable errors are logged and isolated, unrecoverable ones abort
// startup only.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of engine errors.
type ErrorType string

const (
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeProperty   ErrorType = "property"
	ErrorTypeExpression ErrorType = "expression"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeResource   ErrorType = "resource"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeMalformedLine    = "ERR_MALFORMED_LINE"
	ErrCodePropertyNotFound = "ERR_PROPERTY_NOT_FOUND"
	ErrCodeExprCompile      = "ERR_EXPR_COMPILE"
	ErrCodeExprRuntime      = "ERR_EXPR_RUNTIME"
	ErrCodeUnknownKeyword   = "ERR_UNKNOWN_KEYWORD"
	ErrCodeBadPatch         = "ERR_BAD_PATCH"
	ErrCodeIndexOutOfRange  = "ERR_INDEX_OUT_OF_RANGE"
	ErrCodeConfigUnreadable = "ERR_CONFIG_UNREADABLE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeHostUnavailable  = "ERR_HOST_UNAVAILABLE"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// MenuError is a structured error type with context.
type MenuError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Line        int
	Recoverable bool
}

// Error implements the error interface.
func (e *MenuError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line:%d", e.Line))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *MenuError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *MenuError) Is(target error) bool {
	var t *MenuError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *MenuError) WithContext(key string, value interface{}) *MenuError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLine attaches a config line number.
func (e *MenuError) WithLine(line int) *MenuError {
	e.Line = line

	return e
}

// NewParseWarning creates a parse warning for a malformed config line.
// The line is skipped, never fatal.
func NewParseWarning(message string) *MenuError {
	return &MenuError{
		Type:        ErrorTypeParse,
		Code:        ErrCodeMalformedLine,
		Message:     message,
		Recoverable: true,
	}
}

// NewPropertyNotFound creates an error for a property whose top-level
// namespace is unknown to the host.
func NewPropertyNotFound(name string) *MenuError {
	return &MenuError{
		Type:        ErrorTypeProperty,
		Code:        ErrCodePropertyNotFound,
		Message:     "unknown property: " + name,
		Recoverable: true,
	}
}

// NewExprCompileError creates an error for a state expression that failed to
// compile. The owning predicate degrades to constantly false.
func NewExprCompileError(src string, cause error) *MenuError {
	return &MenuError{
		Type:        ErrorTypeExpression,
		Code:        ErrCodeExprCompile,
		Message:     "cannot compile expression: " + src,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewExprRuntimeError creates an error for a state expression that failed at
// evaluation time. The item's previous state is retained.
func NewExprRuntimeError(src string, cause error) *MenuError {
	return &MenuError{
		Type:        ErrorTypeExpression,
		Code:        ErrCodeExprRuntime,
		Message:     "expression evaluation failed: " + src,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewProtocolError creates an error for a rejected protocol request.
func NewProtocolError(code, message string) *MenuError {
	return &MenuError{
		Type:        ErrorTypeProtocol,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewResourceError creates an error for an unreadable resource. This is the
// only error class that aborts startup.
func NewResourceError(message string, cause error) *MenuError {
	return &MenuError{
		Type:        ErrorTypeResource,
		Code:        ErrCodeConfigUnreadable,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates an engine-configuration error.
func NewConfigError(code, message string) *MenuError {
	return &MenuError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *MenuError {
	return &MenuError{
		Type:        ErrorTypeInternal,
		Code:        ErrCodeInternalError,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var me *MenuError
	if errors.As(err, &me) {
		return me.Recoverable
	}

	return false
}

// IsProtocolError checks if an error is a rejected protocol request.
func IsProtocolError(err error) bool {
	var me *MenuError
	if errors.As(err, &me) {
		return me.Type == ErrorTypeProtocol
	}

	return false
}
