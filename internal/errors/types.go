package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

// HelpdeckError is a structured error type with context.
type HelpdeckError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *HelpdeckError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *HelpdeckError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *HelpdeckError) Is(target error) bool {
	var t *HelpdeckError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *HelpdeckError) WithContext(key string, value interface{}) *HelpdeckError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *HelpdeckError) WithComponent(component string) *HelpdeckError {
	e.Component = component

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *HelpdeckError {
	return &HelpdeckError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error. A failed reload surfaces
// one of these and keeps serving the previous content.
func NewConfigError(code, message string, cause error) *HelpdeckError {
	return &HelpdeckError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewRenderError creates a render error. Render failures are recoverable:
// the same request may be retried.
func NewRenderError(code, message string, cause error) *HelpdeckError {
	return &HelpdeckError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *HelpdeckError {
	return &HelpdeckError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *HelpdeckError {
	return &HelpdeckError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var he *HelpdeckError
	if errors.As(err, &he) {
		return he.Recoverable
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

// IsRenderError checks if an error came from the render step.
func IsRenderError(err error) bool {
	return hasType(err, ErrorTypeRender)
}

// IsValidationError checks if an error is validation-related.
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// CodeOf returns the code of the outermost HelpdeckError in the chain.
func CodeOf(err error) string {
	var he *HelpdeckError
	if errors.As(err, &he) {
		return he.Code
	}

	return ""
}

func hasType(err error, t ErrorType) bool {
	var he *HelpdeckError
	for err != nil {
		if !errors.As(err, &he) {
			return false
		}
		if he.Type == t {
			return true
		}
		err = he.Cause
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error with appropriate logging.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var he *HelpdeckError
	if !errors.As(err, &he) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch he.Type {
	case ErrorTypeRender, ErrorTypeValidation:
		h.logger.Warn(ctx, he, "Recoverable error occurred",
			"type", he.Type,
			"code", he.Code,
			"component", he.Component)
	default:
		h.logger.Error(ctx, he, "Error occurred",
			"type", he.Type,
			"code", he.Code,
			"component", he.Component)
	}
}

// Common error codes.
const (
	ErrCodeConfigParse      = "ERR_CONFIG_PARSE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeRenderTimeout    = "ERR_RENDER_TIMEOUT"
	ErrCodeRenderPanic      = "ERR_RENDER_PANIC"
	ErrCodeMarkupFailed     = "ERR_MARKUP_FAILED"
	ErrCodeStoreIO          = "ERR_STORE_IO"
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodeCommandInjection = "ERR_COMMAND_INJECTION"
	ErrCodeInternalError    = "ERR_INTERNAL"
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
)

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Errors = append(vec.Errors, &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
	})
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// ToHelpdeckError converts the validation collection to a HelpdeckError.
func (vec *ValidationErrorCollection) ToHelpdeckError() *HelpdeckError {
	if !vec.HasErrors() {
		return nil
	}

	var messages []string
	fields := make(map[string]interface{})

	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
		fields[err.Field()] = err.Value()
	}

	return &HelpdeckError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeValidationFailed,
		Message:     strings.Join(messages, "; "),
		Context:     fields,
		Recoverable: true,
	}
}
