// Package errors provides the error taxonomy shared by the audio pipeline.
// Gating and filtering rejections are outcomes, not errors, and never appear here.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an AppError.
type Code string

const (
	// CodeConfiguration marks invalid thresholds or durations. Fatal at startup.
	CodeConfiguration Code = "CONFIGURATION"
	// CodeMalformedChunk marks a violated chunk construction invariant.
	CodeMalformedChunk Code = "MALFORMED_CHUNK"
	// CodeTranscriptionTransient marks a retryable collaborator failure (network, timeout, overload).
	CodeTranscriptionTransient Code = "TRANSCRIPTION_TRANSIENT"
	// CodeTranscriptionFailed marks a permanent collaborator failure.
	CodeTranscriptionFailed Code = "TRANSCRIPTION_FAILED"
)

// AppError is the base error type with a structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Configuration is shorthand for a CodeConfiguration error.
func Configuration(format string, args ...interface{}) *AppError {
	return Newf(CodeConfiguration, format, args...)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode checks if any error in err's chain has the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	return IsCode(err, CodeTranscriptionTransient)
}
