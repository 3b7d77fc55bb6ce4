// Package schedule computes next-run times from recurrence rules.
// It is pure: no I/O, no clock reads, deterministic for a given input.
package schedule

import (
	"fmt"
	"time"

	"github.com/semmidev/bastion/internal/domain"
)

// searchBound caps the candidate scan. A rule with no qualifying time
// inside two years (day-of-month 31 restricted to February, say) is
// reported as invalid rather than looping forever.
const searchBound = 2 * 365 * 24 * time.Hour

// NextRun returns the first time strictly after `after` at which cfg
// fires. All configured filters must match simultaneously (AND
// semantics, including day-of-month combined with weekday). Filters
// finer than the frequency that are left empty anchor to their zero
// value, so a bare "daily" fires at midnight rather than every minute;
// an explicitly set filter is honored as-is.
func NextRun(cfg domain.ScheduleConfig, after time.Time) (time.Time, error) {
	if err := cfg.Validate(); err != nil {
		return time.Time{}, err
	}

	eff := anchored(cfg)
	limit := after.Add(searchBound)

	t := after.Truncate(time.Minute).Add(time.Minute)
	for !t.After(limit) {
		switch {
		case !matches(eff.Months, int(t.Month())):
			// Jump to the first minute of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
		case !matches(eff.DaysOfMonth, t.Day()) || !matches(eff.Weekdays, int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
		case !matches(eff.Hours, t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
		case !matches(eff.Minutes, t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("no run time within %s of %s: %w",
		searchBound, after.Format(time.RFC3339), domain.ErrInvalidSchedule)
}

// anchored fills in the frequency-implied defaults for filters finer
// than the frequency: hourly anchors to minute 0, daily to midnight,
// weekly to Monday, monthly to the 1st. Coarser filters stay
// unrestricted.
func anchored(cfg domain.ScheduleConfig) domain.ScheduleConfig {
	switch cfg.Frequency {
	case domain.FrequencyMonthly:
		if len(cfg.DaysOfMonth) == 0 {
			cfg.DaysOfMonth = []int{1}
		}
		fallthrough
	case domain.FrequencyDaily:
		if len(cfg.Hours) == 0 {
			cfg.Hours = []int{0}
		}
		fallthrough
	case domain.FrequencyHourly:
		if len(cfg.Minutes) == 0 {
			cfg.Minutes = []int{0}
		}
	case domain.FrequencyWeekly:
		if len(cfg.Weekdays) == 0 {
			cfg.Weekdays = []int{int(time.Monday)}
		}
		if len(cfg.Hours) == 0 {
			cfg.Hours = []int{0}
		}
		if len(cfg.Minutes) == 0 {
			cfg.Minutes = []int{0}
		}
	}
	return cfg
}

func matches(filter []int, v int) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == v {
			return true
		}
	}
	return false
}
