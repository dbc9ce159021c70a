package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CalendarSpec mirrors the five cron fields. Empty fields default to "*".
// Each field accepts a literal ("30"), a comma-list ("8,20"), a range
// ("1-5") or a wildcard, exactly the grammar robfig/cron implements.
type CalendarSpec struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

func (s CalendarSpec) expression() string {
	field := func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return "*"
		}
		return v
	}

	return strings.Join([]string{
		field(s.Minute),
		field(s.Hour),
		field(s.DayOfMonth),
		field(s.Month),
		field(s.DayOfWeek),
	}, " ")
}

var calendarParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

type dueMatcher interface {
	matches(anchor, now time.Time) bool
}

func compileTrigger(t Trigger) (dueMatcher, error) {
	switch t.Kind {
	case TriggerRate:
		if t.Interval < time.Minute {
			return nil, fmt.Errorf("rate interval must be at least one minute, got %s", t.Interval)
		}
		if t.Interval%time.Minute != 0 {
			return nil, fmt.Errorf("rate interval must be a whole number of minutes, got %s", t.Interval)
		}
		return rateMatcher{interval: t.Interval}, nil
	case TriggerCalendar:
		expr := t.Calendar.expression()
		sched, err := calendarParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("parse calendar spec %q: %w", expr, err)
		}
		return calendarMatcher{sched: sched}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// rateMatcher fires every interval counted from the anchor minute, never at
// the anchor itself.
type rateMatcher struct {
	interval time.Duration
}

func (m rateMatcher) matches(anchor, now time.Time) bool {
	elapsed := now.Truncate(time.Minute).Sub(anchor.Truncate(time.Minute))
	if elapsed <= 0 {
		return false
	}

	return elapsed%m.interval == 0
}

// calendarMatcher asks the cron schedule for the activation following the
// instant just before the current minute; equality means the minute is a
// fire minute.
type calendarMatcher struct {
	sched cron.Schedule
}

func (m calendarMatcher) matches(_ time.Time, now time.Time) bool {
	minute := now.Truncate(time.Minute)

	return m.sched.Next(minute.Add(-time.Second)).Equal(minute)
}
