package client

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"

	"github.com/kbukum/meshprobe/discovery"
	"github.com/kbukum/meshprobe/protocol"
)

// Handle is a client bound to one discovered instance.
type Handle struct {
	Entry   discovery.ServiceEntry
	Service string // full gRPC service name
	Client  protocol.HealthChecker

	conn      *grpc.ClientConn
	closeOnce sync.Once
	closeErr  error
}

// Conn returns the underlying connection. Use with generated stubs. It is
// nil for an instance whose target could not be dialed.
func (h *Handle) Conn() *grpc.ClientConn { return h.conn }

// Close releases the connection. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.conn != nil {
			h.closeErr = h.conn.Close()
		}
	})
	return h.closeErr
}

// ClientOf creates a typed gRPC client on the handle's connection.
//
//	orders := client.ClientOf(h, pb.NewOrdersClient)
func ClientOf[T any](h *Handle, newClient func(grpc.ClientConnInterface) T) T {
	return newClient(h.conn)
}

// CloseAll closes every handle and combines the failures.
func CloseAll(handles []*Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
