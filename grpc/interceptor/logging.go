package interceptor

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/kbukum/meshprobe/logger"
)

// UnaryClientLoggingInterceptor returns a unary client interceptor that logs
// each RPC call with method, duration, and status. Failures are logged at
// warn: a failing instance is expected data, not an error of this process.
func UnaryClientLoggingInterceptor(log *logger.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()
		service := path.Dir(method)[1:]
		methodName := path.Base(method)

		err := invoker(ctx, method, req, reply, cc, opts...)

		fields := map[string]interface{}{
			logger.FieldService:   service,
			logger.FieldOperation: methodName,
			logger.FieldDuration:  time.Since(start).Milliseconds(),
			logger.FieldTarget:    cc.Target(),
		}
		l := log.WithContext(ctx)
		if err != nil {
			st := status.Convert(err)
			fields[logger.FieldStatus] = st.Code().String()
			fields[logger.FieldError] = st.Message()
			l.Warn("gRPC call failed", fields)
		} else {
			fields[logger.FieldStatus] = "OK"
			l.Debug("gRPC call completed", fields)
		}

		return err
	}
}
