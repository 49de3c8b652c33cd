package interceptor

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/kbukum/meshprobe/observability"
)

// UnaryClientTracingInterceptor wraps each call in a client span named after
// the full method.
func UnaryClientTracingInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, span := observability.StartSpan(ctx, method,
			attribute.String("rpc.system", "grpc"),
			attribute.String("net.peer.name", cc.Target()),
		)
		err := invoker(ctx, method, req, reply, cc, opts...)
		span.SetAttributes(attribute.String("rpc.grpc.status_code", status.Code(err).String()))
		observability.EndSpan(span, err)
		return err
	}
}
