package errors

import (
	"errors"
)

type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodePermissionDenied Code = "permission_denied"
	CodeNotFound         Code = "not_found"
	CodeInvalidInput     Code = "invalid_input"
	CodeConflict         Code = "conflict"
	CodeInvalidPolicy    Code = "invalid_policy"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

// MessageAccessDenied is the only message a denied caller ever sees.
const MessageAccessDenied = "access denied"

var (
	ErrMissingStore  = errors.New("orgauthz: membership store is required")
	ErrMissingPolicy = errors.New("orgauthz: policy source is required")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func Unauthenticated() *Error {
	return New(CodeUnauthenticated, "authentication required")
}

func PermissionDenied() *Error {
	return New(CodePermissionDenied, MessageAccessDenied)
}

func StorageUnavailable(err error) *Error {
	return Wrap(CodeStorageUnavailable, "authorization store unavailable", err)
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message)
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns CodeUnknown for errors that are not *Error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var typed *Error
	if !errors.As(err, &typed) || typed == nil {
		return CodeUnknown
	}
	return typed.Code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}
