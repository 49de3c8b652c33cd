// Package grpc holds the dial configuration and error mapping shared by the
// instance clients.
//
// The grpc/client sub-package turns catalog entries into client handles.
// The grpc/interceptor sub-package provides the unary interceptors every
// handle is dialed with:
//
//   - Default deadline for calls that carry none
//   - Call logging with structured fields
//   - Tracing spans per call
package grpc
