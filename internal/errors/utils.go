package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a ScaffoldError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *ScaffoldError {
	if err == nil {
		return nil
	}

	var se *ScaffoldError
	if errors.As(err, &se) {
		return &ScaffoldError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       se,
			Context:     se.Context,
			Path:        se.Path,
			Violations:  se.Violations,
			Recoverable: se.Recoverable,
		}
	}

	return &ScaffoldError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeNotFound,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *ScaffoldError {
	se := Wrap(err, ErrorTypeIO, code, message)
	if se != nil {
		se.Recoverable = false
	}
	return se
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *ScaffoldError {
	se := Wrap(err, ErrorTypeConfig, code, message)
	if se != nil {
		se.Recoverable = false
	}
	return se
}

// FormatError formats an error for user display, listing each violation on
// its own line.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var se *ScaffoldError
	if errors.As(err, &se) && len(se.Violations) > 0 {
		result := se.Message
		for _, v := range se.Violations {
			result += fmt.Sprintf("\n  • %s", v.String())
		}
		return result
	}

	return err.Error()
}

// GetErrorContext extracts context information from a ScaffoldError
func GetErrorContext(err error) map[string]interface{} {
	var se *ScaffoldError
	if errors.As(err, &se) {
		context := make(map[string]interface{})
		for k, v := range se.Context {
			context[k] = v
		}
		if se.Path != "" {
			context["path"] = se.Path
		}
		context["type"] = string(se.Type)
		context["code"] = se.Code
		context["recoverable"] = se.Recoverable
		return context
	}

	return map[string]interface{}{
		"message": err.Error(),
		"type":    "unknown",
	}
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}

	messages := make([]string, len(nonNil))
	for i, err := range nonNil {
		messages[i] = err.Error()
	}

	return &ScaffoldError{
		Type:    ErrorTypeInternal,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNil)),
		Context: map[string]interface{}{
			"error_count": len(nonNil),
			"errors":      messages,
		},
		Recoverable: false,
	}
}
