package testutil

import (
	"context"
	"testing"

	"github.com/kbukum/meshprobe/component"
)

// Fixture is a test component that can be wiped between subtests.
type Fixture interface {
	component.Component
	Reset(ctx context.Context) error
}

// Harness ties fixture lifetimes to a test.
type Harness struct {
	t testing.TB
}

// T wraps a testing.TB.
//
//	net := testutil.NewNetwork()
//	testutil.T(t).Setup(net)
func T(t testing.TB) *Harness {
	return &Harness{t: t}
}

// Setup starts f and registers its Stop as a cleanup.
func (h *Harness) Setup(f Fixture) {
	h.t.Helper()
	if err := f.Start(context.Background()); err != nil {
		h.t.Fatalf("start %s: %v", f.Name(), err)
	}
	h.t.Cleanup(func() {
		if err := f.Stop(context.Background()); err != nil {
			h.t.Errorf("stop %s: %v", f.Name(), err)
		}
	})
}

// Reset wipes f, failing the test on error.
func (h *Harness) Reset(f Fixture) {
	h.t.Helper()
	if err := f.Reset(context.Background()); err != nil {
		h.t.Fatalf("reset %s: %v", f.Name(), err)
	}
}
