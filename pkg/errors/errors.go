// Package errors is the service's structured error type.  An AppError carries
// an ErrorCode that HTTP responses, logs and metrics all key on; the code
// table lives in codes.go.
//
//	return errors.New(errors.ErrCodeProviderUnavailable, "kakao runtime not ready")
//	return errors.Wrap(err, errors.ErrCodeNativeCallFailed, "set_view failed").WithDetail("pane=left")
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackFrames = 32

// AppError is a coded error with optional detail and cause.  It works with
// errors.Is, errors.As and errors.Unwrap.
type AppError struct {
	Code    ErrorCode
	Message string
	// Detail is extra context such as a pane id or provider kind.
	Detail string
	Cause  error
	// Stack is captured at construction and never part of Error().
	Stack string
}

// newError is the only constructor; the stack starts at the caller of the
// exported factory that invoked it.
func newError(code ErrorCode, message, detail string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Detail: detail, Cause: cause, Stack: callerStack()}
}

func callerStack() string {
	// Skip runtime.Callers, callerStack, newError and the exported factory.
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder
	for n > 0 {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			fmt.Fprintf(&sb, "\n\t%s:%d %s", f.File, f.Line, f.Function)
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// Error renders "[CODE] message: detail (cause)", omitting empty parts.
func (e *AppError) Error() string {
	var sb strings.Builder
	sb.WriteString("[" + e.Code.String() + "] " + e.Message)
	if e.Detail != "" {
		sb.WriteString(": " + e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(" (" + e.Cause.Error() + ")")
	}
	return sb.String()
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError with the same code.  A target with an empty
// message matches any message, so code-only sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// WithDetail returns a copy with Detail set.  Nil-safe.
func (e *AppError) WithDetail(detail string) *AppError {
	if e == nil {
		return nil
	}
	c := *e
	c.Detail = detail
	return &c
}

// WithCause returns a copy with Cause set.  Nil-safe.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	c := *e
	c.Cause = err
	return &c
}

func New(code ErrorCode, message string) *AppError {
	return newError(code, message, "", nil)
}

func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...), "", nil)
}

// Wrap returns nil for a nil err.  With CodeUnknown it keeps the code of an
// AppError already in err's chain.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if code == CodeUnknown {
		code = GetCode(err)
	}
	return newError(code, message, "", err)
}

// IsCode reports whether any AppError in err's chain has code.
func IsCode(err error, code ErrorCode) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if ae, ok := err.(*AppError); ok && ae.Code == code {
			return true
		}
	}
	return false
}

func isAnyCode(err error, codes ...ErrorCode) bool {
	for _, c := range codes {
		if IsCode(err, c) {
			return true
		}
	}
	return false
}

// IsNotFound reports a missing pane, resource or panorama.
func IsNotFound(err error) bool {
	return isAnyCode(err, CodeNotFound, ErrCodeUnknownPane, ErrCodeNoImageryAvailable)
}

// IsValidation reports bad caller input.
func IsValidation(err error) bool {
	return isAnyCode(err, CodeInvalidParam, ErrCodeValidation, ErrCodeInvalidViewport,
		ErrCodeInvalidMode, ErrCodeUnknownProvider)
}

// GetCode returns the code of the first AppError in err's chain, CodeOK for
// nil and CodeUnknown for foreign errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is and As forward to the standard library for callers that import this
// package as "errors".
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func NotFound(message string) *AppError {
	return newError(CodeNotFound, message, "", nil)
}

func InvalidParam(message string) *AppError {
	return newError(CodeInvalidParam, message, "", nil)
}

func Internal(message string) *AppError {
	return newError(CodeInternal, message, "", nil)
}

// ProviderUnavailable is returned while a provider runtime is still loading.
func ProviderUnavailable(provider string) *AppError {
	return newError(ErrCodeProviderUnavailable, DefaultMessageForCode(ErrCodeProviderUnavailable), "provider="+provider, nil)
}

// NoImageryAvailable is returned when no panorama exists near a point.
func NoImageryAvailable(detail string) *AppError {
	return newError(ErrCodeNoImageryAvailable, DefaultMessageForCode(ErrCodeNoImageryAvailable), detail, nil)
}

// StaleAdapterOperation records an adapter call made after teardown.
func StaleAdapterOperation(op string) *AppError {
	return newError(ErrCodeStaleAdapterOperation, DefaultMessageForCode(ErrCodeStaleAdapterOperation), "op="+op, nil)
}
