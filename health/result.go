package health

import (
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kbukum/meshprobe/grpc/client"
)

// Outcome is the settled result of probing one handle.
type Outcome struct {
	Handle   *client.Handle
	Tag      string
	Err      error
	Duration time.Duration
}

// Alive reports whether the instance answered.
func (o Outcome) Alive() bool { return o.Err == nil }

// AliveResult groups reachable instances by the tag each one reported.
// An empty result is valid.
type AliveResult map[string][]*client.Handle

// Len returns the number of alive handles.
func (r AliveResult) Len() int {
	n := 0
	for _, hs := range r {
		n += len(hs)
	}
	return n
}

// Tags returns the reported tags, sorted.
func (r AliveResult) Tags() []string {
	tags := make([]string, 0, len(r))
	for t := range r {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Membership returns the service ids per tag, sorted, for comparing
// results independent of handle identity and completion order.
func (r AliveResult) Membership() map[string][]string {
	out := make(map[string][]string, len(r))
	for tag, hs := range r {
		ids := make([]string, 0, len(hs))
		for _, h := range hs {
			ids = append(ids, h.Entry.ServiceID)
		}
		sort.Strings(ids)
		out[tag] = ids
	}
	return out
}

// Close closes every handle in the result.
func (r AliveResult) Close() error {
	var result *multierror.Error
	for _, hs := range r {
		if err := client.CloseAll(hs); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
