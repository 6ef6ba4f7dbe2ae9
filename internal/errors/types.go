package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeCompilation    ErrorType = "compilation"
	ErrorTypeRender         ErrorType = "render"
	ErrorTypeInstallation   ErrorType = "installation"
	ErrorTypeInfrastructure ErrorType = "infrastructure"
	ErrorTypeIO             ErrorType = "io"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeSecurity       ErrorType = "security"
	ErrorTypeInternal       ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeValidationFailed   = "ERR_VALIDATION_FAILED"
	ErrCodeVariableInvalid    = "ERR_VARIABLE_INVALID"
	ErrCodeDescriptorInvalid  = "ERR_DESCRIPTOR_INVALID"
	ErrCodeTemplateNotFound   = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodeCompileFailed      = "ERR_COMPILE_FAILED"
	ErrCodeRenderFailed       = "ERR_RENDER_FAILED"
	ErrCodeInstallFailed      = "ERR_INSTALL_FAILED"
	ErrCodeDirectoryCreate    = "ERR_DIRECTORY_CREATE"
	ErrCodeTargetExists       = "ERR_TARGET_EXISTS"
	ErrCodeSecurityScanFailed = "ERR_SECURITY_SCAN_FAILED"
	ErrCodeSecretLoad         = "ERR_SECRET_LOAD"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeFileRead           = "ERR_FILE_READ"
	ErrCodePathTraversal      = "ERR_PATH_TRAVERSAL"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// Violation is a single failed check against a variable or descriptor field.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// String formats the violation as "field: message".
func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// ScaffoldError is a structured error type with context.
type ScaffoldError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Path        string
	Violations  []Violation
	Recoverable bool
}

// Error implements the error interface.
func (e *ScaffoldError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	if len(e.Violations) > 0 {
		msgs := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			msgs[i] = v.String()
		}
		parts = append(parts, "("+strings.Join(msgs, "; ")+")")
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ScaffoldError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ScaffoldError) Is(target error) bool {
	var t *ScaffoldError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ScaffoldError) WithContext(key string, value interface{}) *ScaffoldError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath adds the offending file or directory.
func (e *ScaffoldError) WithPath(path string) *ScaffoldError {
	e.Path = path

	return e
}

// Error creation functions

// NewValidationError creates a validation error carrying every violation.
func NewValidationError(code, message string, violations ...Violation) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Violations:  violations,
		Recoverable: true,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewCompilationError wraps a template compiler diagnostic.
func NewCompilationError(path string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeCompilation,
		Code:        ErrCodeCompileFailed,
		Message:     "template compilation failed",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewRenderError wraps a template execution failure.
func NewRenderError(path string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeRender,
		Code:        ErrCodeRenderFailed,
		Message:     "template render failed",
		Cause:       cause,
		Path:        path,
		Recoverable: true,
	}
}

// NewInstallationError creates an error for unmet post-install invariants.
func NewInstallationError(code, message string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeInstallation,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInfrastructureError creates an error that aborts a whole batch.
func NewInfrastructureError(code, message string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeInfrastructure,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeSecurity,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ScaffoldError {
	return &ScaffoldError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error classification

func isType(err error, t ErrorType) bool {
	var se *ScaffoldError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsCompilation checks if an error is a compilation error.
func IsCompilation(err error) bool { return isType(err, ErrorTypeCompilation) }

// IsRender checks if an error is a render error.
func IsRender(err error) bool { return isType(err, ErrorTypeRender) }

// IsInstallation checks if an error is an installation error.
func IsInstallation(err error) bool { return isType(err, ErrorTypeInstallation) }

// IsInfrastructure checks if an error is an infrastructure error.
func IsInfrastructure(err error) bool { return isType(err, ErrorTypeInfrastructure) }

// IsSecurityError checks if an error is security-related.
func IsSecurityError(err error) bool { return isType(err, ErrorTypeSecurity) }

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *ScaffoldError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// Violations returns the violations carried by err, if any.
func Violations(err error) []Violation {
	var se *ScaffoldError
	if errors.As(err, &se) {
		return se.Violations
	}

	return nil
}

// ErrTemplateNotFound creates a template-not-found error.
func ErrTemplateNotFound(name, version string) *ScaffoldError {
	msg := "template not found: " + name
	if version != "" {
		msg += "@" + version
	}
	return NewNotFoundError(ErrCodeTemplateNotFound, msg).
		WithContext("name", name).
		WithContext("version", version)
}

// ErrTargetExists creates the error for an existing output directory without force.
func ErrTargetExists(path string) *ScaffoldError {
	return NewValidationError(ErrCodeTargetExists, "target directory already exists").WithPath(path)
}
