package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures surfaced by the detection pipeline.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "ValidationError"
	CodeMissingField      ErrorCode = "MissingField"
	CodeDecode            ErrorCode = "DecodeError"
	CodeAmbiguousEncoding ErrorCode = "AmbiguousEncoding"
	CodeInference         ErrorCode = "InferenceError"
	CodeTimeout           ErrorCode = "TimeoutError"
	CodeForwarding        ErrorCode = "ForwardingError"
	CodeInternal          ErrorCode = "Internal"
)

// Sentinels usable with errors.Is against any *Error carrying the same code.
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrMissingField      = &Error{Code: CodeMissingField}
	ErrDecode            = &Error{Code: CodeDecode}
	ErrAmbiguousEncoding = &Error{Code: CodeAmbiguousEncoding}
	ErrInference         = &Error{Code: CodeInference}
	ErrTimeout           = &Error{Code: CodeTimeout}
	ErrForwarding        = &Error{Code: CodeForwarding}
	ErrInternal          = &Error{Code: CodeInternal}
)

// Error is a classified pipeline error, optionally scoped to one resolution.
type Error struct {
	Code       ErrorCode
	Resolution Resolution
	Message    string
	Err        error
}

// NewError builds an Error for the given code and resolution.
func NewError(code ErrorCode, res Resolution, format string, args ...interface{}) *Error {
	return &Error{Code: code, Resolution: res, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under code. A nil err yields nil.
func WrapError(code ErrorCode, res Resolution, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Resolution: res, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Resolution != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Resolution, msg)
	}
	if msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on error code so sentinels compare equal to any error of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsClientError reports whether code describes a problem with the caller's payload.
func IsClientError(code ErrorCode) bool {
	switch code {
	case CodeValidation, CodeMissingField, CodeDecode, CodeAmbiguousEncoding:
		return true
	}
	return false
}
