// Package fabricconfig is the deployment-time job table: every collector and
// analysis generator the fabric runs, with budgets, retry policies, season
// windows and stagger-derived schedules. The registry and schedule set are
// resolved from here once at startup and sealed.
package fabricconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sharplines/odds-fabric/internal/domain/job"
	"github.com/sharplines/odds-fabric/internal/domain/schedule"
	"github.com/sharplines/odds-fabric/internal/usecase"
)

var validate = validator.New()

// Sports returns the supported sport keys in catalog order.
func Sports() []string {
	return []string{"nfl", "nba", "mlb", "nhl", "ncaaf", "ncaab"}
}

// Models returns the analysis model keys.
func Models() []string {
	return []string{"consensus", "power-rating"}
}

// BetTypes returns the bet type keys carried in payloads.
func BetTypes() []string {
	return []string{"games", "props"}
}

// Seasons maps each sport to its active month window. Windows that cross
// year-end wrap (basketball and hockey run October through June).
func Seasons() map[string]schedule.SeasonWindow {
	return map[string]schedule.SeasonWindow{
		"nfl":   {StartMonth: time.September, EndMonth: time.February},
		"nba":   {StartMonth: time.October, EndMonth: time.June},
		"mlb":   {StartMonth: time.March, EndMonth: time.October},
		"nhl":   {StartMonth: time.October, EndMonth: time.June},
		"ncaaf": {StartMonth: time.August, EndMonth: time.January},
		"ncaab": {StartMonth: time.November, EndMonth: time.April},
	}
}

// familySpec is one row of the static job table.
type familySpec struct {
	Name        string        `validate:"required"`
	Handler     string        `validate:"required,startswith=/"`
	Timeout     time.Duration `validate:"required,gt=0"`
	MemoryMB    int           `validate:"gte=0"`
	MaxAttempts int           `validate:"gte=0,lte=5"`
	MaxAge      time.Duration `validate:"gte=0"`
	Env         map[string]string
}

func families() []familySpec {
	return []familySpec{
		// Odds snapshots are time-sensitive: a failed snapshot must never be
		// retried with stale input, so any failure dead-letters immediately.
		{Name: "collect-odds", Handler: "/internal/collect/odds", Timeout: 2 * time.Minute, MemoryMB: 256, MaxAttempts: 0, MaxAge: 30 * time.Minute},
		{Name: "collect-player-stats", Handler: "/internal/collect/player-stats", Timeout: 5 * time.Minute, MemoryMB: 512, MaxAttempts: 2, MaxAge: 6 * time.Hour},
		{Name: "collect-team-stats", Handler: "/internal/collect/team-stats", Timeout: 5 * time.Minute, MemoryMB: 512, MaxAttempts: 2, MaxAge: 6 * time.Hour},
		{Name: "collect-injuries", Handler: "/internal/collect/injuries", Timeout: 3 * time.Minute, MemoryMB: 256, MaxAttempts: 2, MaxAge: 4 * time.Hour},
		{Name: "collect-schedules", Handler: "/internal/collect/schedules", Timeout: 5 * time.Minute, MemoryMB: 256, MaxAttempts: 3, MaxAge: 24 * time.Hour},
		{Name: "collect-weather", Handler: "/internal/collect/weather", Timeout: 2 * time.Minute, MemoryMB: 128, MaxAttempts: 1, MaxAge: time.Hour, Env: map[string]string{"FORECAST_HOURS": "48"}},
		{Name: "collect-news", Handler: "/internal/collect/news", Timeout: 3 * time.Minute, MemoryMB: 256, MaxAttempts: 1, MaxAge: 2 * time.Hour},
		{Name: "generate-consensus", Handler: "/internal/analysis/consensus", Timeout: 10 * time.Minute, MemoryMB: 1024, MaxAttempts: 1, MaxAge: 4 * time.Hour},
		{Name: "analysis-loader", Handler: "/internal/analysis/load", Timeout: 2 * time.Minute, MemoryMB: 128, MaxAttempts: 1, MaxAge: time.Hour},
		{Name: "generate-analysis", Handler: "/internal/analysis/run", Timeout: 14 * time.Minute, MemoryMB: 1024, MaxAttempts: 2, MaxAge: 6 * time.Hour},
	}
}

// Settings tunes catalog construction. CreatedAt anchors rate triggers and is
// normally the process start time.
type Settings struct {
	CreatedAt time.Time
	Stagger   schedule.AllocatorConfig
}

// Catalog is the fully resolved fabric configuration: a sealed registry, the
// complete schedule set, and the fan-out targets the loader enumerates.
type Catalog struct {
	Registry        *job.Registry
	Rules           []schedule.Rule
	AnalysisTargets []usecase.AnalysisTarget
	Seasons         map[string]schedule.SeasonWindow
}

// Build resolves the static job table into a sealed registry and schedule
// set. All configuration errors surface here, before the dispatcher starts.
func Build(settings Settings) (*Catalog, error) {
	createdAt := settings.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	registry := job.NewRegistry()
	handlersByFamily := make(map[string]job.HandlerRef)
	for _, spec := range families() {
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("job table entry %s: %w", spec.Name, err)
		}

		j, err := job.New("", spec.Name, job.HandlerRef(spec.Handler),
			job.Budget{Timeout: spec.Timeout, MemoryMB: spec.MemoryMB},
			job.RetryPolicy{MaxAttempts: spec.MaxAttempts, MaxAge: spec.MaxAge},
			spec.Env,
		)
		if err != nil {
			return nil, err
		}
		if _, err := registry.Register(j); err != nil {
			return nil, err
		}
		handlersByFamily[spec.Name] = j.Handler
	}

	seasons := Seasons()
	var rules []schedule.Rule

	addRule := func(name, jobName string, trigger schedule.Trigger, payload job.Payload, season *schedule.SeasonWindow) error {
		rule, err := schedule.NewRule(name, jobName, trigger, payload, season, createdAt)
		if err != nil {
			return err
		}
		rules = append(rules, rule)
		return nil
	}

	// Per-sport collectors with fixed calendars. Minute lists are shifted by
	// sport index so the same handler never fires for two sports at once.
	for i, sport := range Sports() {
		window := seasons[sport]
		payload := job.Payload{"sport": sport}

		if err := addRule("collect-odds-"+sport, "collect-odds",
			schedule.Calendar(schedule.CalendarSpec{Minute: minuteList(i, 10)}),
			payload, &window); err != nil {
			return nil, err
		}
		if err := addRule("collect-schedules-"+sport, "collect-schedules",
			schedule.Calendar(schedule.CalendarSpec{Minute: strconv.Itoa(i), Hour: "6"}),
			payload, &window); err != nil {
			return nil, err
		}
	}

	// Weather only matters for the outdoor sports.
	for i, sport := range []string{"nfl", "mlb", "ncaaf"} {
		window := seasons[sport]
		if err := addRule("collect-weather-"+sport, "collect-weather",
			schedule.Calendar(schedule.CalendarSpec{Minute: strconv.Itoa(50 + i)}),
			job.Payload{"sport": sport}, &window); err != nil {
			return nil, err
		}
	}

	// League-wide collectors on plain rate triggers.
	if err := addRule("collect-injuries", "collect-injuries",
		schedule.Rate(4*time.Hour), job.Payload{}, nil); err != nil {
		return nil, err
	}
	if err := addRule("collect-news", "collect-news",
		schedule.Rate(2*time.Hour), job.Payload{}, nil); err != nil {
		return nil, err
	}
	if err := addRule("analysis-loader", "analysis-loader",
		schedule.Rate(4*time.Hour), job.Payload{}, nil); err != nil {
		return nil, err
	}

	// Staggered variants: stats collectors per sport plus consensus per
	// sport, model and bet type, spread by the allocator so no handler
	// family bursts.
	variants, payloads := staggeredVariants()
	assignments, err := schedule.Allocate(variants, handlersByFamily, settings.Stagger)
	if err != nil {
		return nil, err
	}

	for _, v := range variants {
		assignment := assignments[v]
		window := seasons[v.Sport]
		name := strings.ReplaceAll(v.Key(), ":", "-")
		if err := addRule(name, v.Family,
			schedule.Calendar(schedule.CalendarSpec{
				Minute: strconv.Itoa(assignment.Minute),
				Hour:   assignment.HourList(),
			}),
			payloads[v], &window); err != nil {
			return nil, err
		}
	}

	registry.Seal()

	return &Catalog{
		Registry:        registry,
		Rules:           rules,
		AnalysisTargets: analysisTargets(),
		Seasons:         seasons,
	}, nil
}

func staggeredVariants() ([]job.Variant, map[job.Variant]job.Payload) {
	var variants []job.Variant
	payloads := make(map[job.Variant]job.Payload)

	for _, sport := range Sports() {
		for _, family := range []string{"collect-player-stats", "collect-team-stats"} {
			v := job.Variant{Family: family, Sport: sport}
			variants = append(variants, v)
			payloads[v] = job.Payload{"sport": sport}
		}
	}

	for _, sport := range Sports() {
		for _, model := range Models() {
			for _, betType := range BetTypes() {
				v := job.Variant{Family: "generate-consensus", Sport: sport, Subtype: model + "-" + betType}
				variants = append(variants, v)
				payloads[v] = job.Payload{
					"sport":         sport,
					"model":         model,
					"bet_type":      betType,
					"analysis_type": usecase.AnalysisTypeFor(betType),
					"props_only":    betType == "props",
				}
			}
		}
	}

	return variants, payloads
}

func analysisTargets() []usecase.AnalysisTarget {
	var out []usecase.AnalysisTarget
	for _, sport := range Sports() {
		for _, model := range Models() {
			for _, betType := range BetTypes() {
				out = append(out, usecase.AnalysisTarget{Sport: sport, Model: model, BetType: betType})
			}
		}
	}
	return out
}

// minuteList renders the repeating minute offsets for one sport, e.g. shift 2
// with period 10 yields "2,12,22,32,42,52".
func minuteList(shift, period int) string {
	var parts []string
	for m := shift % period; m < 60; m += period {
		parts = append(parts, strconv.Itoa(m))
	}
	return strings.Join(parts, ",")
}
