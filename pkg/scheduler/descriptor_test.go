package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noop(context.Context, *Task) error { return nil }

func TestBuilderValidation(t *testing.T) {
	cases := []struct {
		name  string
		b     *Builder
		field string
	}{
		{"missing payload", NewBuilder().Owner(testOwner), "payload"},
		{"missing owner", NewBuilder().Payload(noop), "owner"},
		{"negative delay", NewBuilder().Payload(noop).Owner(testOwner).DelayTicks(-1), "delay"},
		{"negative interval", NewBuilder().Payload(noop).Owner(testOwner).IntervalWall(-time.Second), "interval"},
		{"bad schedule", NewBuilder().Payload(noop).Owner(testOwner).Schedule("every now and then"), "schedule"},
		{"negative failures", NewBuilder().Payload(noop).Owner(testOwner).MaxConsecutiveFailures(-2), "max_consecutive_failures"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("err=%v does not match ErrInvalidDescriptor", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err=%T is not *ValidationError", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field=%q want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestBuilderMixedUnits(t *testing.T) {
	d := mustBuild(t, NewBuilder().Payload(noop).DelayTicks(3).IntervalWall(2*time.Second).Name("  mixed "))
	if d.Delay() != Ticks(3) {
		t.Fatalf("delay=%v", d.Delay())
	}
	if d.Interval() != Wall(2*time.Second) {
		t.Fatalf("interval=%v", d.Interval())
	}
	if d.Name() != "mixed" {
		t.Fatalf("name=%q", d.Name())
	}
	if !d.IsPeriodic() {
		t.Fatalf("expected periodic")
	}
}

func TestBuilderSchedule(t *testing.T) {
	b := NewBuilder().Payload(noop)
	b.now = func() time.Time { return time.Date(2024, 1, 1, 10, 2, 0, 0, time.Local) }
	d := mustBuild(t, b.Schedule("*/5 * * * *"))
	if d.Delay() != Wall(3*time.Minute) {
		t.Fatalf("delay=%v want 3m", d.Delay())
	}
	if d.Interval() != Wall(5*time.Minute) {
		t.Fatalf("interval=%v want 5m", d.Interval())
	}
	if d.Schedule() != "*/5 * * * *" {
		t.Fatalf("schedule=%q", d.Schedule())
	}
}

func TestToBuilderDerivesVariant(t *testing.T) {
	base := mustBuild(t, NewBuilder().Payload(noop).Name("base").IntervalTicks(5))
	v := mustBuild(t, base.ToBuilder().IntervalTicks(7))
	if v.Name() != "base" || v.Interval() != Ticks(7) {
		t.Fatalf("variant=%+v", v)
	}
	if base.Interval() != Ticks(5) {
		t.Fatalf("base mutated: %v", base.Interval())
	}
}

func TestZeroDescriptorRejected(t *testing.T) {
	d := NewSyncDriver()
	if _, err := d.Submit(Descriptor{}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("err=%v want ErrInvalidDescriptor", err)
	}
	if d.Len() != 0 {
		t.Fatalf("nothing should be registered")
	}
}
