package schedule

import (
	"fmt"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

// TriggerKind distinguishes the two kinds of trigger a rule can carry.
type TriggerKind string

const (
	TriggerRate     TriggerKind = "rate"
	TriggerCalendar TriggerKind = "calendar"
)

// Trigger is either a fixed repeating interval or a calendar (cron-style)
// field set. Rate phase is anchored at the rule's CreatedAt: the first fire
// is one full interval after creation, subsequent fires exactly one interval
// apart. Calendar fields each accept a literal, comma-list, range or
// wildcard, matched at minute granularity.
type Trigger struct {
	Kind     TriggerKind
	Interval time.Duration // rate only
	Calendar CalendarSpec  // calendar only
}

func Rate(interval time.Duration) Trigger {
	return Trigger{Kind: TriggerRate, Interval: interval}
}

func Calendar(spec CalendarSpec) Trigger {
	return Trigger{Kind: TriggerCalendar, Calendar: spec}
}

// SeasonWindow is an inclusive month range during which a sport's scheduled
// jobs are live. End < Start denotes wraparound past year-end, e.g. an
// October through June basketball season.
type SeasonWindow struct {
	StartMonth time.Month
	EndMonth   time.Month
}

// Contains reports whether the month falls inside the window, accounting for
// wraparound.
func (w SeasonWindow) Contains(month time.Month) bool {
	if w.StartMonth == 0 || w.EndMonth == 0 {
		return true
	}
	if w.StartMonth <= w.EndMonth {
		return month >= w.StartMonth && month <= w.EndMonth
	}
	return month >= w.StartMonth || month <= w.EndMonth
}

func (w SeasonWindow) Validate() error {
	if (w.StartMonth == 0) != (w.EndMonth == 0) {
		return fmt.Errorf("season window must set both months or neither")
	}
	if w.StartMonth < 0 || w.StartMonth > 12 || w.EndMonth < 0 || w.EndMonth > 12 {
		return fmt.Errorf("season window months must be 1..12")
	}

	return nil
}

// Rule binds one trigger and one literal payload to exactly one job. The
// payload is fixed at definition time; the dispatcher hands a copy of it to
// the handler on every fire. Season is optional and only meaningful for
// calendar triggers.
type Rule struct {
	Name      string
	JobName   string
	Trigger   Trigger
	Payload   job.Payload
	Season    *SeasonWindow
	CreatedAt time.Time

	compiled dueMatcher
}

func NewRule(name, jobName string, trigger Trigger, payload job.Payload, season *SeasonWindow, createdAt time.Time) (Rule, error) {
	r := Rule{
		Name:      name,
		JobName:   jobName,
		Trigger:   trigger,
		Payload:   payload.Clone(),
		Season:    season,
		CreatedAt: createdAt.UTC().Truncate(time.Minute),
	}

	if r.Name == "" {
		return Rule{}, fmt.Errorf("rule name is required")
	}
	if r.JobName == "" {
		return Rule{}, fmt.Errorf("rule %s: job name is required", name)
	}
	if season != nil {
		if err := season.Validate(); err != nil {
			return Rule{}, fmt.Errorf("rule %s: %w", name, err)
		}
	}

	matcher, err := compileTrigger(trigger)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}
	r.compiled = matcher

	return r, nil
}

// Due reports whether the rule fires at the given instant, at minute
// granularity. Season gating applies on top of the trigger match.
func (r Rule) Due(now time.Time) bool {
	if r.compiled == nil {
		return false
	}

	now = now.UTC()
	if r.Season != nil && !r.Season.Contains(now.Month()) {
		return false
	}

	return r.compiled.matches(r.CreatedAt, now)
}
