package scheduler

import (
	"fmt"
	"math"
	"time"
)

// Unit tags a Span as a tick count or a wall-clock duration.
type Unit uint8

const (
	UnitWall Unit = iota
	UnitTicks
)

func (u Unit) String() string {
	switch u {
	case UnitTicks:
		return "ticks"
	case UnitWall:
		return "wall"
	default:
		return fmt.Sprintf("unit(%d)", u)
	}
}

// Span is a delay or interval measured either in ticks or in nanoseconds.
// The zero Span is a zero wall duration.
type Span struct {
	n    int64
	unit Unit
}

func Ticks(n int64) Span         { return Span{n: n, unit: UnitTicks} }
func Wall(d time.Duration) Span  { return Span{n: int64(d), unit: UnitWall} }
func (s Span) Unit() Unit        { return s.unit }
func (s Span) Value() int64      { return s.n }
func (s Span) IsZero() bool      { return s.n == 0 }
func (s Span) IsNegative() bool  { return s.n < 0 }
func (s Span) IsTicks() bool     { return s.unit == UnitTicks }
func (s Span) Equal(o Span) bool { return s.n == o.n && (s.unit == o.unit || s.n == 0) }

// Duration converts the span to wall time, using tickLength for tick spans.
// Tick counts too large to represent saturate at the largest Duration.
func (s Span) Duration(tickLength time.Duration) time.Duration {
	if s.unit != UnitTicks {
		return time.Duration(s.n)
	}
	if tickLength <= 0 || s.n == 0 {
		return 0
	}
	tl := int64(tickLength)
	switch {
	case s.n > math.MaxInt64/tl:
		return math.MaxInt64
	case s.n < math.MinInt64/tl:
		return math.MinInt64
	}
	return time.Duration(s.n * tl)
}

// TickCount converts the span to ticks, rounding partial ticks up.
func (s Span) TickCount(tickLength time.Duration) int64 {
	if s.unit == UnitTicks {
		return s.n
	}
	if tickLength <= 0 || s.n <= 0 {
		return 0
	}
	tl := int64(tickLength)
	n := s.n / tl
	if s.n%tl != 0 {
		n++
	}
	return n
}

// In converts the span to the given unit.
func (s Span) In(u Unit, tickLength time.Duration) Span {
	if u == s.unit {
		return s
	}
	if u == UnitTicks {
		return Ticks(s.TickCount(tickLength))
	}
	return Wall(s.Duration(tickLength))
}

func (s Span) String() string {
	if s.unit == UnitTicks {
		return fmt.Sprintf("%dt", s.n)
	}
	return time.Duration(s.n).String()
}
