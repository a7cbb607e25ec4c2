package errors

import (
	"net/http"
	"strings"
)

// ErrorCode identifies a failure category as MODULE_NNN.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common codes.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Infrastructure codes.
const (
	ErrCodeCacheError   ErrorCode = "INFRA_001"
	ErrCodeMessageQueue ErrorCode = "INFRA_002"
)

// Sync engine codes.
const (
	// ErrCodeProviderUnavailable: the provider runtime for a pane is not loaded
	// yet. Recovered locally by the init poll, never fatal.
	ErrCodeProviderUnavailable ErrorCode = "SYNC_001"
	// ErrCodeNoImageryAvailable: no panorama exists at the requested point.
	ErrCodeNoImageryAvailable ErrorCode = "SYNC_002"
	// ErrCodeStaleAdapterOperation: an adapter method was invoked after its pane
	// was torn down.
	ErrCodeStaleAdapterOperation ErrorCode = "SYNC_003"
	ErrCodeUnknownProvider       ErrorCode = "SYNC_004"
	ErrCodeUnknownPane           ErrorCode = "SYNC_005"
	ErrCodeInvalidViewport       ErrorCode = "SYNC_006"
	ErrCodeInvalidMode           ErrorCode = "SYNC_007"
	ErrCodeNativeCallFailed      ErrorCode = "SYNC_008"
	ErrCodeEngineStopped         ErrorCode = "SYNC_009"
)

// Short names used at call sites.
const (
	CodeInternal          = ErrCodeInternal
	CodeInvalidParam      = ErrCodeBadRequest
	CodeNotFound          = ErrCodeNotFound
	CodeNotImplemented    = ErrCodeNotImplemented
	CodeMessageQueueError = ErrCodeMessageQueue
	CodeOK                = ErrorCode("OK")
	CodeUnknown           = ErrorCode("UNKNOWN")
)

type codeInfo struct {
	status    int
	message   string
	retryable bool
}

var registry = map[ErrorCode]codeInfo{
	ErrCodeInternal:           {http.StatusInternalServerError, "internal server error", false},
	ErrCodeBadRequest:         {http.StatusBadRequest, "bad request", false},
	ErrCodeNotFound:           {http.StatusNotFound, "resource not found", false},
	ErrCodeConflict:           {http.StatusConflict, "resource conflict", false},
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, "service unavailable", true},
	ErrCodeValidation:         {http.StatusUnprocessableEntity, "validation failed", false},
	ErrCodeSerialization:      {http.StatusInternalServerError, "serialization failed", false},
	ErrCodeNotImplemented:     {http.StatusNotImplemented, "not implemented", false},

	ErrCodeCacheError:   {http.StatusInternalServerError, "state mirror error", true},
	ErrCodeMessageQueue: {http.StatusInternalServerError, "journal error", true},

	ErrCodeProviderUnavailable:   {http.StatusServiceUnavailable, "map provider runtime not available", true},
	ErrCodeNoImageryAvailable:    {http.StatusNotFound, "no panorama imagery at location", false},
	ErrCodeStaleAdapterOperation: {http.StatusConflict, "operation on torn-down adapter", false},
	ErrCodeUnknownProvider:       {http.StatusBadRequest, "unknown map provider", false},
	ErrCodeUnknownPane:           {http.StatusNotFound, "unknown pane", false},
	ErrCodeInvalidViewport:       {http.StatusBadRequest, "invalid viewport", false},
	ErrCodeInvalidMode:           {http.StatusBadRequest, "invalid pane mode", false},
	ErrCodeNativeCallFailed:      {http.StatusBadGateway, "map provider call failed", false},
	ErrCodeEngineStopped:         {http.StatusServiceUnavailable, "sync engine stopped", true},
}

// Codes returns every registered code.
func Codes() []ErrorCode {
	out := make([]ErrorCode, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	return out
}

// HTTPStatusForCode returns the HTTP status for code; unregistered codes map
// to 500.
func HTTPStatusForCode(code ErrorCode) int {
	if info, ok := registry[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the generic message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if info, ok := registry[code]; ok {
		return info.message
	}
	return "unknown error"
}

// IsRetryable reports whether the same call may succeed later without any
// change from the caller.
func IsRetryable(code ErrorCode) bool {
	return registry[code].retryable
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	return HTTPStatusForCode(code) >= 500
}

// ModuleForCode returns the MODULE part of code.
func ModuleForCode(code ErrorCode) string {
	if i := strings.IndexByte(string(code), '_'); i > 0 {
		return string(code[:i])
	}
	return "UNKNOWN"
}
