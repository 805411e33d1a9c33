package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a HelpdeckError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *HelpdeckError {
	if err == nil {
		return nil
	}

	var he *HelpdeckError
	if errors.As(err, &he) {
		return &HelpdeckError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       he,
			Context:     he.Context,
			Component:   he.Component,
			Recoverable: he.Recoverable,
		}
	}

	return &HelpdeckError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeRender,
	}
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *HelpdeckError {
	he := Wrap(err, ErrorTypeConfig, code, message)
	if he != nil {
		he.Recoverable = false
	}
	return he
}

// WrapRender wraps an error as a render error
func WrapRender(err error, code, message string) *HelpdeckError {
	he := Wrap(err, ErrorTypeRender, code, message)
	if he != nil {
		he.Recoverable = true
	}
	return he
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *HelpdeckError {
	he := Wrap(err, ErrorTypeIO, code, message)
	if he != nil {
		he.Recoverable = false
	}
	return he
}

// Combine merges several errors into one, dropping nils.
func Combine(errs ...error) error {
	return errors.Join(errs...)
}
