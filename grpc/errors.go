package grpc

import (
	"context"
	stderrors "errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/kbukum/meshprobe/errors"
)

// FromGRPC converts a failed RPC against target into an AppError.
func FromGRPC(err error, target string) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return apperrors.Timeout("health check " + target).WithCause(err)
	case codes.Canceled:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return apperrors.Timeout("health check " + target).WithCause(err)
		}
		return apperrors.ExternalServiceError(target, err)
	case codes.Unavailable:
		if IsConnectionError(err) {
			return apperrors.ConnectionFailed(target).WithCause(err)
		}
		return apperrors.ServiceUnavailable(target).WithCause(err)
	case codes.Unimplemented:
		return apperrors.Configuration(target + " does not implement the health contract").WithCause(err)
	default:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return apperrors.Timeout("health check " + target).WithCause(err)
		}
		return apperrors.ExternalServiceError(target, err)
	}
}

// Reason returns a short label for a failed RPC, suitable for metrics and
// logs.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded.String()
	}
	return status.Code(err).String()
}

// IsConnectionError checks if a gRPC error is a connection-level failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"transport is closing",
		"connection closed",
		"error while dialing",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsRetryableCode reports whether code is a transient failure worth
// repeating.
func IsRetryableCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}
