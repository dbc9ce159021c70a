package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sharplines/odds-fabric/internal/domain/job"
)

// ErrStaggerCapacity is returned when the requested variants cannot all fit
// in the stagger window without two variants of the same handler colliding.
var ErrStaggerCapacity = errors.New("stagger window capacity exceeded")

// Assignment is a variant's slot inside the repeating window: a fixed minute
// of the hour and the set of hours the schedule repeats on.
type Assignment struct {
	Minute int
	Hours  []int
}

// HourList renders the hour set as a calendar field value, e.g. "2,6,10".
func (a Assignment) HourList() string {
	parts := make([]string, len(a.Hours))
	for i, h := range a.Hours {
		parts[i] = strconv.Itoa(h)
	}

	return strings.Join(parts, ",")
}

// AllocatorConfig controls how variants are spread. RepeatEveryHours expands
// each variant's base hour into a repeating hour-of-day pattern;
// RepeatCount caps how many hours that pattern contains.
type AllocatorConfig struct {
	StepMinutes      int
	RepeatEveryHours int
	RepeatCount      int
}

func (c AllocatorConfig) withDefaults() AllocatorConfig {
	if c.StepMinutes <= 0 {
		c.StepMinutes = 5
	}
	if c.RepeatEveryHours <= 0 {
		c.RepeatEveryHours = 4
	}
	if c.RepeatCount <= 0 {
		c.RepeatCount = 24 / c.RepeatEveryHours
	}

	return c
}

// Allocate deterministically assigns each variant a non-overlapping
// (minute, hour-set) slot. A running offset counter walks the input in
// order: minute = counter mod 60, base hour = counter div 60; the base hour
// is then expanded by RepeatEveryHours modulo 24. Re-running with the same
// input yields identical assignments; there is no hidden randomness.
//
// Collisions between variants of the same handler become possible once the
// counter wraps past 60 minutes per distinct handler family; Allocate
// refuses that outright rather than silently wrapping.
func Allocate(variants []job.Variant, families map[string]job.HandlerRef, cfg AllocatorConfig) (map[job.Variant]Assignment, error) {
	cfg = cfg.withDefaults()

	out := make(map[job.Variant]Assignment, len(variants))
	if len(variants) == 0 {
		return out, nil
	}

	distinctHandlers := countDistinctHandlers(variants, families)
	capacityMinutes := 60 * distinctHandlers

	counter := 0
	for _, v := range variants {
		if _, dup := out[v]; dup {
			return nil, fmt.Errorf("duplicate stagger variant %s", v.Key())
		}
		if counter >= capacityMinutes {
			return nil, fmt.Errorf("%w: %d variants exceed %d minute slots across %d handlers",
				ErrStaggerCapacity, len(variants), capacityMinutes, distinctHandlers)
		}

		minute := counter % 60
		hourBase := counter / 60

		hours := make([]int, 0, cfg.RepeatCount)
		seen := make(map[int]struct{}, cfg.RepeatCount)
		for i := 0; i < cfg.RepeatCount; i++ {
			h := (hourBase + i*cfg.RepeatEveryHours) % 24
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			hours = append(hours, h)
		}
		sort.Ints(hours)

		out[v] = Assignment{Minute: minute, Hours: hours}
		counter += cfg.StepMinutes
	}

	return out, nil
}

func countDistinctHandlers(variants []job.Variant, families map[string]job.HandlerRef) int {
	if len(families) == 0 {
		return 1
	}

	seen := make(map[job.HandlerRef]struct{}, len(families))
	for _, v := range variants {
		ref, ok := families[v.Family]
		if !ok {
			continue
		}
		seen[ref] = struct{}{}
	}
	if len(seen) == 0 {
		return 1
	}

	return len(seen)
}
