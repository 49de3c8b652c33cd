package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The health contract takes an empty message and returns a message whose
// field 1 is the tag string. emptypb.Empty and wrapperspb.StringValue share
// that wire shape, so no generated code is needed.

type healthStub struct {
	cc     grpc.ClientConnInterface
	method string
}

// NewHealthStub returns a client constructor calling healthCheck on
// fullService.
func NewHealthStub(fullService string) func(grpc.ClientConnInterface) HealthChecker {
	method := MethodPath(fullService, HealthCheckMethod)
	return func(cc grpc.ClientConnInterface) HealthChecker {
		return &healthStub{cc: cc, method: method}
	}
}

func (s *healthStub) HealthCheck(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := s.cc.Invoke(ctx, s.method, new(emptypb.Empty), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// RegisterHealthServer serves the health contract for fullService on s,
// answering with whatever impl reports.
func RegisterHealthServer(s grpc.ServiceRegistrar, fullService string, impl HealthChecker) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: fullService,
		HandlerType: (*HealthChecker)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: HealthCheckMethod,
			Handler:    healthCheckHandler(MethodPath(fullService, HealthCheckMethod)),
		}},
		Streams: []grpc.StreamDesc{},
	}, impl)
}

func healthCheckHandler(fullMethod string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, _ any) (any, error) {
			tag, err := srv.(HealthChecker).HealthCheck(ctx)
			if err != nil {
				return nil, err
			}
			return wrapperspb.String(tag), nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}

// StaticTag is a HealthChecker that always reports tag.
func StaticTag(tag string) HealthChecker {
	return HealthFunc(func(context.Context) (string, error) { return tag, nil })
}
