package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a ViewError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *ViewError {
	if err == nil {
		return nil
	}

	// If it's already a ViewError, preserve its properties but update the message
	var ve *ViewError
	if errors.As(err, &ve) {
		return &ViewError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ve,
			Context:     ve.Context,
			Template:    ve.Template,
			FilePath:    ve.FilePath,
			Recoverable: ve.Recoverable,
		}
	}

	return &ViewError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeNotFound || errType == ErrorTypeCompile,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *ViewError {
	viewErr := Wrap(err, ErrorTypeIO, code, message)
	if viewErr != nil {
		viewErr.Recoverable = false
	}
	return viewErr
}

// WrapCompile wraps an error as a compile error for template
func WrapCompile(err error, code, message, template string) *ViewError {
	viewErr := Wrap(err, ErrorTypeCompile, code, message)
	if viewErr != nil {
		viewErr.Template = template
	}
	return viewErr
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *ViewError {
	viewErr := Wrap(err, ErrorTypeConfig, code, message)
	if viewErr != nil {
		viewErr.Recoverable = false
	}
	return viewErr
}

// WrapInternal wraps an error as an internal error
func WrapInternal(err error, code, message string) *ViewError {
	viewErr := Wrap(err, ErrorTypeInternal, code, message)
	if viewErr != nil {
		viewErr.Recoverable = false
	}
	return viewErr
}

// FormatError formats an error for user display
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var ve *ViewError
	if errors.As(err, &ve) {
		return ve.Error()
	}

	return err.Error()
}

// GetErrorContext extracts context information from a ViewError
func GetErrorContext(err error) map[string]interface{} {
	var ve *ViewError
	if errors.As(err, &ve) {
		context := make(map[string]interface{})
		for k, v := range ve.Context {
			context[k] = v
		}
		if ve.Template != "" {
			context["template"] = ve.Template
		}
		if ve.FilePath != "" {
			context["file"] = ve.FilePath
		}
		context["type"] = string(ve.Type)
		context["code"] = ve.Code
		context["recoverable"] = ve.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// CollectErrors helper for common error collection patterns
func CollectErrors(errs ...error) []error {
	var collected []error
	for _, err := range errs {
		if err != nil {
			collected = append(collected, err)
		}
	}
	return collected
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	nonNilErrs := CollectErrors(errs...)
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	var messages []string
	for _, err := range nonNilErrs {
		messages = append(messages, err.Error())
	}

	return &ViewError{
		Type:    ErrorTypeCompile,
		Code:    ErrCodeMultipleErrors,
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNilErrs)),
		Cause:   errors.Join(nonNilErrs...),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
			"errors":      messages,
		},
		Recoverable: false,
	}
}
