// Package errors provides the structured error type used across the view
// engine. Errors carry a category, a stable code and optional template
// context so callers can tell a missing view from a broken one.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeViewNotFound         = "ERR_VIEW_NOT_FOUND"
	ErrCodeNoTemplates          = "ERR_NO_TEMPLATES"
	ErrCodeIO                   = "ERR_IO"
	ErrCodeFileLocked           = "ERR_FILE_LOCKED"
	ErrCodeDirectiveUnresolved  = "ERR_DIRECTIVE_UNRESOLVED"
	ErrCodeDirectiveCycle       = "ERR_DIRECTIVE_CYCLE"
	ErrCodeRecursionDepth       = "ERR_RECURSION_DEPTH"
	ErrCodeDirectiveFailed      = "ERR_DIRECTIVE_FAILED"
	ErrCodeBundleNotFound       = "ERR_BUNDLE_NOT_FOUND"
	ErrCodeTokenUnavailable     = "ERR_TOKEN_UNAVAILABLE"
	ErrCodeConfigInvalid        = "ERR_CONFIG_INVALID"
	ErrCodeInternalError        = "ERR_INTERNAL"
	ErrCodeMultipleErrors       = "ERR_MULTIPLE_ERRORS"
	ErrCodeValidationFailed     = "ERR_VALIDATION_FAILED"
	ErrCodeRenderHandlerFailure = "ERR_RENDER_HANDLER"
)

// ViewError is a structured error type with context.
type ViewError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Template    string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *ViewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Template != "" {
		parts = append(parts, "template:"+e.Template)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ViewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ViewError) Is(target error) bool {
	var t *ViewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ViewError) WithContext(key string, value interface{}) *ViewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTemplate adds the fully qualified template name.
func (e *ViewError) WithTemplate(name string) *ViewError {
	e.Template = name

	return e
}

// WithFile adds the source file path.
func (e *ViewError) WithFile(path string) *ViewError {
	e.FilePath = path

	return e
}

// NewNotFoundError creates a not-found error. Not-found is always
// recoverable: the caller renders a generic "not found" response.
func NewNotFoundError(code, message string) *ViewError {
	return &ViewError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewCompileError creates a compile error. The previously compiled entry
// stays valid, so compile errors are recoverable.
func NewCompileError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeCompile,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ViewError {
	return &ViewError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *ViewError {
	return &ViewError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ViewError {
	return &ViewError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Recoverable
	}

	return false
}

// IsNotFound checks if an error means a view or directive target is missing.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsCompileError checks if an error was raised by the directive processor.
func IsCompileError(err error) bool {
	return hasType(err, ErrorTypeCompile)
}

// IsIOError checks if an error is I/O related.
func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

// HasCode checks if any ViewError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ve *ViewError
		if !errors.As(err, &ve) {
			return false
		}
		if ve.Code == code {
			return true
		}
		err = ve.Cause
	}

	return false
}

func hasType(err error, errType ErrorType) bool {
	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Type == errType
	}

	return false
}

// Helper functions for common errors

// ErrViewNotFound creates a view not found error.
func ErrViewNotFound(name string) *ViewError {
	return NewNotFoundError(ErrCodeViewNotFound, "view not found: "+name).WithTemplate(name)
}

// ErrNoTemplates creates the error returned when a load pass finds nothing.
func ErrNoTemplates(roots []string) *ViewError {
	return NewNotFoundError(ErrCodeNoTemplates, "no templates found").
		WithContext("roots", roots)
}

// ErrDirectiveCycle creates a compile error for a circular include chain.
func ErrDirectiveCycle(chain []string) *ViewError {
	return NewCompileError(
		ErrCodeDirectiveCycle,
		"circular directive chain: "+strings.Join(chain, " -> "),
		nil,
	).WithContext("chain", chain)
}

// ErrRecursionDepth creates a compile error for an include chain that is
// deeper than the configured limit.
func ErrRecursionDepth(chain []string, limit int) *ViewError {
	return NewCompileError(
		ErrCodeRecursionDepth,
		fmt.Sprintf("directive recursion exceeded depth %d: %s", limit, strings.Join(chain, " -> ")),
		nil,
	).WithContext("chain", chain)
}

// ErrDirectiveUnresolved creates a compile error for a Master or Partial
// target that matches no loaded template.
func ErrDirectiveUnresolved(directive, target string) *ViewError {
	return NewCompileError(
		ErrCodeDirectiveUnresolved,
		fmt.Sprintf("unresolved %s directive target: %s", directive, target),
		nil,
	).WithContext("directive", directive).WithContext("target", target)
}
