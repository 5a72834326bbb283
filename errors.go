package realm

import (
	"errors"
	"fmt"

	"github.com/takameyer/realm.go/pkg/connection"
)

// Error codes reported by app services.
const (
	ErrCodeInvalidSession       = "InvalidSession"
	ErrCodeAuthError            = "AuthError"
	ErrCodeAccountNameInUse     = "AccountNameInUse"
	ErrCodeBadRequest           = "BadRequest"
	ErrCodeSubscriptionNotFound = "SubscriptionNotFound"
	ErrCodeFunctionNotFound     = "FunctionNotFound"
	ErrCodeDuplicateKey         = "DuplicateKey"
	ErrCodeAppNotFound          = "AppNotFound"
	ErrCodeInternal             = "InternalServerError"
)

// AppError is an error reported by app services.
type AppError struct {
	Code    string
	Message string

	err error
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.err
}

// Is matches another AppError by code. An AppError without code matches any AppError.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// IsAppError reports whether err is an AppError with the given code.
func IsAppError(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// wrapError turns RPC errors into AppErrors. Other errors are returned as is.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	var rpcErr *connection.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := rpcErr.Message
	if rpcErr.Description != "" {
		msg = rpcErr.Description
	}
	return &AppError{Code: rpcErr.Code, Message: msg, err: err}
}

func isInvalidSession(err error) bool {
	return errors.Is(err, &connection.RPCError{Code: ErrCodeInvalidSession}) || IsAppError(err, ErrCodeInvalidSession)
}
