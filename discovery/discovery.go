package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"
)

// Agent is a capability bound to one catalog node.
type Agent interface {
	// ListServices returns every composite service name in the catalog with
	// its tags.
	ListServices(ctx context.Context) (map[string][]string, error)

	// ServiceNodes returns the nodes registered under name.
	ServiceNodes(ctx context.Context, name string) ([]CatalogNode, error)

	// KVGet returns the value stored under key, or nil with a nil error when
	// the key does not exist.
	KVGet(ctx context.Context, key string) ([]byte, error)

	// Deregister removes serviceID from the catalog. Removing an id the node
	// does not hold is not an error.
	Deregister(ctx context.Context, serviceID string) error
}

// CatalogNode is a raw catalog record for one registered instance.
type CatalogNode struct {
	ServiceID      string
	ServiceName    string
	ServiceAddress string
	ServicePort    int
}

// ServiceEntry is a resolved instance of a service.
type ServiceEntry struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
}

// Target returns the host:port dial target of the entry.
func (e ServiceEntry) Target() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// ServiceGroup maps a service name to its resolved entries.
type ServiceGroup map[string][]ServiceEntry

// Len returns the number of entries across all names.
func (g ServiceGroup) Len() int {
	n := 0
	for _, entries := range g {
		n += len(entries)
	}
	return n
}

const compositeSeparator = "@"

// SplitCompositeName splits "<logical>@<host-tag>". A name without the
// separator is both its own logical part and host tag.
func SplitCompositeName(name string) (logical, hostTag string) {
	logical, hostTag, ok := strings.Cut(name, compositeSeparator)
	if !ok {
		return name, name
	}
	return logical, hostTag
}

// entryFromNode applies the host selection rule: instances registered under
// a localhost service name are dialled on localhost, everything else on its
// advertised address.
func entryFromNode(n CatalogNode) ServiceEntry {
	host := n.ServiceAddress
	if strings.Contains(n.ServiceName, "localhost") {
		host = "localhost"
	}
	return ServiceEntry{
		ServiceID:   n.ServiceID,
		ServiceName: n.ServiceName,
		Address:     host,
		Port:        n.ServicePort,
	}
}
