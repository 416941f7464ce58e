package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Payload is the unit of work. A returned error (or a panic) counts as a
// failed execution; it is reported to the failure hook and never stops the
// scheduler.
type Payload func(ctx context.Context, t *Task) error

// Descriptor is an immutable task specification produced by Builder.Build.
type Descriptor struct {
	payload     Payload
	owner       Owner
	name        string
	delay       Span
	interval    Span
	maxFailures int
	schedule    string
	cron        cron.Schedule
}

func (d Descriptor) Payload() Payload            { return d.payload }
func (d Descriptor) Owner() Owner                { return d.owner }
func (d Descriptor) Name() string                { return d.name }
func (d Descriptor) Delay() Span                 { return d.delay }
func (d Descriptor) Interval() Span              { return d.interval }
func (d Descriptor) IsPeriodic() bool            { return !d.interval.IsZero() }
func (d Descriptor) Schedule() string            { return d.schedule }
func (d Descriptor) MaxConsecutiveFailures() int { return d.maxFailures }

// ToBuilder returns a builder pre-filled with d, for deriving a variant.
func (d Descriptor) ToBuilder() *Builder {
	return &Builder{
		payload:     d.payload,
		owner:       d.owner,
		name:        d.name,
		delay:       d.delay,
		interval:    d.interval,
		maxFailures: d.maxFailures,
		schedule:    d.schedule,
		cron:        d.cron,
	}
}

// validate rejects descriptors not produced by Build (e.g. the zero value).
func (d Descriptor) validate() error {
	if d.payload == nil {
		return NewValidationError("payload", nil, "required")
	}
	if d.owner == nil {
		return NewValidationError("owner", nil, "required")
	}
	if d.delay.IsNegative() {
		return NewValidationError("delay", d.delay.String(), "must be >= 0")
	}
	if d.interval.IsNegative() {
		return NewValidationError("interval", d.interval.String(), "must be >= 0")
	}
	return nil
}

// Builder assembles a Descriptor. Setters can be chained; the first invalid
// input is reported by Build.
type Builder struct {
	payload     Payload
	owner       Owner
	name        string
	delay       Span
	interval    Span
	maxFailures int
	schedule    string
	cron        cron.Schedule
	err         error
	now         func() time.Time
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) Payload(fn Payload) *Builder { b.payload = fn; return b }

// Func adapts a payload that does not need the context or the task handle.
func (b *Builder) Func(fn func()) *Builder {
	if fn == nil {
		b.payload = nil
		return b
	}
	b.payload = func(context.Context, *Task) error { fn(); return nil }
	return b
}

func (b *Builder) Owner(o Owner) *Builder    { b.owner = o; return b }
func (b *Builder) Name(name string) *Builder { b.name = strings.TrimSpace(name); return b }

// Explicit delays and intervals replace a cron schedule set earlier.
func (b *Builder) Delay(s Span) *Builder                 { return b.setDelay(s) }
func (b *Builder) DelayTicks(n int64) *Builder           { return b.setDelay(Ticks(n)) }
func (b *Builder) DelayWall(d time.Duration) *Builder    { return b.setDelay(Wall(d)) }
func (b *Builder) Interval(s Span) *Builder              { return b.setInterval(s) }
func (b *Builder) IntervalTicks(n int64) *Builder        { return b.setInterval(Ticks(n)) }
func (b *Builder) IntervalWall(d time.Duration) *Builder { return b.setInterval(Wall(d)) }

func (b *Builder) setDelay(s Span) *Builder    { b.delay, b.cron = s, nil; return b }
func (b *Builder) setInterval(s Span) *Builder { b.interval, b.cron = s, nil; return b }

// MaxConsecutiveFailures cancels the task after n failed executions in a row.
// 0 retries forever.
func (b *Builder) MaxConsecutiveFailures(n int) *Builder { b.maxFailures = n; return b }

// Schedule sets delay and interval from a schedule string (see ParseSchedule).
func (b *Builder) Schedule(raw string) *Builder {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	s, err := ParseScheduleAt(raw, now())
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.delay = s.Delay
	b.interval = s.Interval
	b.schedule = strings.TrimSpace(raw)
	b.cron = s.next
	return b
}

// Build validates the accumulated options.
func (b *Builder) Build() (Descriptor, error) {
	if b.err != nil {
		return Descriptor{}, b.err
	}
	if b.maxFailures < 0 {
		return Descriptor{}, NewValidationError("max_consecutive_failures", b.maxFailures, "must be >= 0")
	}
	d := Descriptor{
		payload:     b.payload,
		owner:       b.owner,
		name:        b.name,
		delay:       b.delay,
		interval:    b.interval,
		maxFailures: b.maxFailures,
		schedule:    b.schedule,
		cron:        b.cron,
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
