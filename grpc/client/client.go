package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	grpccfg "github.com/kbukum/meshprobe/grpc"
	"github.com/kbukum/meshprobe/grpc/interceptor"
	"github.com/kbukum/meshprobe/logger"
)

// NewConn creates a lazy, insecure client connection to target. No I/O
// happens until the first RPC. extra options are applied last and win over
// the defaults.
func NewConn(target string, cfg grpccfg.Config, log *logger.Logger, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := append(buildDialOptions(cfg, log), extra...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc: failed to create client for %s: %w", target, err)
	}
	return conn, nil
}

// buildDialOptions assembles all gRPC dial options from config.
func buildDialOptions(cfg grpccfg.Config, log *logger.Logger) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.Keepalive.Time,
			Timeout:             cfg.Keepalive.Timeout,
			PermitWithoutStream: cfg.Keepalive.PermitWithoutStream,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(cfg.MaxSendMsgSize),
		),
	}

	// tracing → timeout → logging
	unary := []grpc.UnaryClientInterceptor{interceptor.UnaryClientTracingInterceptor()}
	if cfg.CallTimeout > 0 {
		unary = append(unary, interceptor.UnaryClientTimeoutInterceptor(cfg.CallTimeout))
	}
	if cfg.LogCalls && log != nil {
		unary = append(unary, interceptor.UnaryClientLoggingInterceptor(log))
	}
	return append(opts, grpc.WithChainUnaryInterceptor(unary...))
}
