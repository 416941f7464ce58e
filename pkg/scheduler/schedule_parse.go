package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind describes the normalized kind of a schedule string.
type ScheduleKind int

const (
	ScheduleInterval ScheduleKind = iota
	ScheduleTicks
	ScheduleCron
)

// Schedule is a parsed schedule string, already reduced to a delay and an
// interval.
//
// Supported forms:
//   - Ticks: "20t", "ticks:20"
//   - Interval duration: "55m", "2h30m", "interval:45s", "every:10s"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Cron (crontab.guru-style): "*/5 * * * *", "@hourly", "@every 55m", "cron:0 0 * * *"
//
// Interval and tick forms first fire one interval after submission. For a cron
// expression Delay is the time until its next fire and Interval the gap
// between the next two fires; a task built from it re-evaluates the
// expression on every run, so irregular expressions such as "0 9 * * 1-5"
// keep their calendar.
type Schedule struct {
	Kind     ScheduleKind
	Delay    Span
	Interval Span
	Cron     string
	Source   string // "ticks" | "duration" | "hhmm" | "cron"

	next cron.Schedule
}

var (
	reHHMM  = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reTicks = regexp.MustCompile(`^(\d+)\s*t$`)
)

// ParseSchedule parses raw relative to the current time.
func ParseSchedule(raw string) (Schedule, error) {
	return ParseScheduleAt(raw, time.Now())
}

// ParseScheduleAt parses raw; cron expressions are evaluated relative to now.
func ParseScheduleAt(raw string, now time.Time) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, NewValidationError("schedule", nil, "required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, NewValidationError("schedule", raw, "cron expression required after 'cron:'")
		}
		return parseCron(raw, expr, now)
	case strings.HasPrefix(low, "ticks:"):
		return parseTicks(raw, strings.TrimSpace(s[len("ticks:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSchedule(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSchedule(raw, s[len("every:"):])
	}

	if m := reTicks.FindStringSubmatch(low); m != nil {
		return parseTicks(raw, m[1])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s, now)
	}

	return parseIntervalSchedule(raw, s)
}

func parseTicks(raw, v string) (Schedule, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return Schedule{}, NewValidationError("schedule", raw, "invalid tick count").WithHint("use '20t' or 'ticks:20'")
	}
	if n <= 0 {
		return Schedule{}, NewValidationError("schedule", raw, "tick interval must be > 0")
	}
	return Schedule{Kind: ScheduleTicks, Delay: Ticks(n), Interval: Ticks(n), Source: "ticks"}, nil
}

func parseIntervalSchedule(raw, v string) (Schedule, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return Schedule{}, NewValidationError("schedule", raw, err.Error()).
			WithHint("use cron like '*/5 * * * *', HH:MM like '02:30', ticks like '20t', or duration like '55m'")
	}
	return Schedule{Kind: ScheduleInterval, Delay: Wall(d), Interval: Wall(d), Source: src}, nil
}

func parseCron(raw, expr string, now time.Time) (Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, NewValidationError("schedule", raw, err.Error()).WithHint("see crontab.guru for the 5-field syntax")
	}
	first := sched.Next(now)
	if first.IsZero() {
		return Schedule{}, NewValidationError("schedule", raw, "cron expression never fires")
	}
	second := sched.Next(first)
	if second.IsZero() {
		return Schedule{}, NewValidationError("schedule", raw, "cron expression fires only once")
	}
	return Schedule{
		Kind:     ScheduleCron,
		Delay:    Wall(first.Sub(now)),
		Interval: Wall(second.Sub(first)),
		Cron:     expr,
		Source:   "cron",
		next:     sched,
	}, nil
}

// cronWait returns the time from now until the next fire of sched. A schedule
// that never fires again waits forever.
func cronWait(sched cron.Schedule, now time.Time) time.Duration {
	next := sched.Next(now)
	if next.IsZero() {
		return math.MaxInt64
	}
	return next.Sub(now)
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
