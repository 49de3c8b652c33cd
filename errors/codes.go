package errors

import "net/http"

// ErrorCode represents a machine-readable error code.
type ErrorCode string

const (
	// ErrCodeRetryRequested marks a failure that is safe and useful to
	// repeat. Catalog adapters tag transient failures with it and
	// resilience.CatalogRetryConfig retries nothing else.
	ErrCodeRetryRequested ErrorCode = "RR"

	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"

	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeConfiguration is a static misconfiguration, such as an unknown
	// protocol package. Never retried.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeRetryRequested:     {http.StatusServiceUnavailable, true},
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeConnectionFailed:   {http.StatusServiceUnavailable, true},
	ErrCodeTimeout:            {http.StatusGatewayTimeout, true},
	ErrCodeExternalService:    {http.StatusBadGateway, true},
	ErrCodeNotFound:           {http.StatusNotFound, false},
	ErrCodeInvalidInput:       {http.StatusBadRequest, false},
	ErrCodeMissingField:       {http.StatusBadRequest, false},
	ErrCodeInternal:           {http.StatusInternalServerError, false},
	ErrCodeConfiguration:      {http.StatusInternalServerError, false},
}

// IsRetryableCode reports whether errors with code are worth repeating.
// Unknown codes are not.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}

// StatusOf returns the HTTP status for code, 500 for unknown codes.
func StatusOf(code ErrorCode) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
