package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testOwner = NamedOwner("test")

func mustBuild(t *testing.T, b *Builder) Descriptor {
	t.Helper()
	if b.owner == nil {
		b.Owner(testOwner)
	}
	d, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return d
}

// counting returns a payload that increments n.
func counting(n *atomic.Int64) Payload {
	return func(context.Context, *Task) error {
		n.Add(1)
		return nil
	}
}
