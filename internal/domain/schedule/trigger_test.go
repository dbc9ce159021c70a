package schedule

import (
	"testing"
	"time"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

func mustRule(t *testing.T, name string, trigger Trigger, season *SeasonWindow, createdAt time.Time) Rule {
	t.Helper()

	r, err := NewRule(name, "collect-odds", trigger, job.Payload{"sport": "nfl"}, season, createdAt)
	if err != nil {
		t.Fatalf("new rule %s: %v", name, err)
	}

	return r
}

func TestRule_RateFiresOnWholeIntervals(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	r := mustRule(t, "odds-every-4h", Rate(4*time.Hour), nil, createdAt)

	cases := []struct {
		at   time.Time
		want bool
	}{
		{createdAt, false},
		{createdAt.Add(time.Hour), false},
		{createdAt.Add(4 * time.Hour), true},
		{createdAt.Add(5 * time.Hour), false},
		{createdAt.Add(8 * time.Hour), true},
		{createdAt.Add(12 * time.Hour), true},
		{createdAt.Add(12*time.Hour + time.Minute), false},
	}
	for _, tc := range cases {
		if got := r.Due(tc.at); got != tc.want {
			t.Fatalf("Due(%s)=%v want %v", tc.at, got, tc.want)
		}
	}
}

func TestRule_CalendarFiresOnListedHoursOnly(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := mustRule(t, "injuries-twice-daily", Calendar(CalendarSpec{Minute: "0", Hour: "8,20"}), nil, createdAt)

	day := time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC)
	fired := 0
	for minute := 0; minute < 24*60; minute++ {
		at := day.Add(time.Duration(minute) * time.Minute)
		if r.Due(at) {
			fired++
			if h := at.Hour(); h != 8 && h != 20 {
				t.Fatalf("fired at unexpected hour %02d:%02d", h, at.Minute())
			}
			if at.Minute() != 0 {
				t.Fatalf("fired at unexpected minute %d", at.Minute())
			}
		}
	}
	if fired != 2 {
		t.Fatalf("expected 2 fires in the day, got %d", fired)
	}
}

func TestRule_CalendarIgnoresSecondsWithinMinute(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := mustRule(t, "daily-schedules", Calendar(CalendarSpec{Minute: "30", Hour: "6"}), nil, createdAt)

	at := time.Date(2026, time.April, 2, 6, 30, 45, 0, time.UTC)
	if !r.Due(at) {
		t.Fatal("expected rule due anywhere inside the matching minute")
	}
}

func TestSeasonWindow_Wraparound(t *testing.T) {
	t.Parallel()

	nba := SeasonWindow{StartMonth: time.October, EndMonth: time.June}
	for _, m := range []time.Month{10, 11, 12, 1, 2, 3, 4, 5, 6} {
		if !nba.Contains(m) {
			t.Fatalf("month %d should be in wraparound season", m)
		}
	}
	for _, m := range []time.Month{7, 8, 9} {
		if nba.Contains(m) {
			t.Fatalf("month %d should be out of wraparound season", m)
		}
	}

	mlb := SeasonWindow{StartMonth: time.March, EndMonth: time.October}
	for _, m := range []time.Month{3, 4, 5, 6, 7, 8, 9, 10} {
		if !mlb.Contains(m) {
			t.Fatalf("month %d should be in season", m)
		}
	}
	for _, m := range []time.Month{1, 2, 11, 12} {
		if mlb.Contains(m) {
			t.Fatalf("month %d should be out of season", m)
		}
	}
}

func TestRule_SeasonGateSuppressesCalendarFire(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	season := &SeasonWindow{StartMonth: time.October, EndMonth: time.June}
	r := mustRule(t, "nba-schedules", Calendar(CalendarSpec{Minute: "0", Hour: "6"}), season, createdAt)

	inSeason := time.Date(2026, time.February, 10, 6, 0, 0, 0, time.UTC)
	if !r.Due(inSeason) {
		t.Fatal("expected fire during season")
	}

	offSeason := time.Date(2026, time.August, 10, 6, 0, 0, 0, time.UTC)
	if r.Due(offSeason) {
		t.Fatal("expected no fire out of season")
	}
}

func TestNewRule_RejectsMalformedCalendar(t *testing.T) {
	t.Parallel()

	_, err := NewRule("bad", "collect-odds", Calendar(CalendarSpec{Minute: "61"}), nil, nil,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected parse error for minute=61")
	}
}

func TestNewRule_RejectsSubMinuteRate(t *testing.T) {
	t.Parallel()

	_, err := NewRule("bad", "collect-odds", Rate(30*time.Second), nil, nil,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err == nil {
		t.Fatal("expected error for sub-minute rate interval")
	}
}

func TestRule_PayloadClonedAtDefinition(t *testing.T) {
	t.Parallel()

	payload := job.Payload{"sport": "nfl", "props_only": false}
	r, err := NewRule("odds", "collect-odds", Rate(time.Hour), payload, nil,
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	payload["sport"] = "nba"
	if r.Payload["sport"] != "nfl" {
		t.Fatal("rule payload must be fixed at definition time")
	}
}
