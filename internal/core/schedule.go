// Package core provides the household budgeting domain model: accounts,
// recurring expenses with payment-month schedules, and per-user settings.
package core

import (
	"sort"
	"time"
)

// ValidateCombination reports whether the given months form one of the
// allowed periodic payment patterns. A valid schedule has 0, 1, 2, 4, or
// 12 distinct months, evenly spaced on the 12-month ring. The single rule
// covers yearly, half-yearly, quarterly, and monthly payments without
// special-casing each.
func ValidateCombination(months []time.Month) bool {
	switch len(months) {
	case 0, 1, 2, 4, 12:
	default:
		return false
	}

	seen := make(map[time.Month]struct{}, len(months))
	for _, m := range months {
		if _, dup := seen[m]; dup {
			return false
		}
		seen[m] = struct{}{}
	}

	if len(months) <= 1 {
		return true
	}

	sorted := make([]time.Month, len(months))
	copy(sorted, months)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// Circular gap between consecutive months, wrapping from the last
	// back to the first.
	gap := (int(sorted[0]) - int(sorted[len(sorted)-1]) + 12) % 12
	for i := 1; i < len(sorted); i++ {
		if int(sorted[i])-int(sorted[i-1]) != gap {
			return false
		}
	}
	return true
}

// Schedule is a set of payment months that has passed ValidateCombination.
// It is only constructible through NewSchedule, so services persisting a
// schedule cannot skip validation.
type Schedule struct {
	months []time.Month
}

// NewSchedule validates the given months and returns them as a Schedule.
// Returns ErrInvalidSchedule when the combination is not an allowed
// periodic pattern.
func NewSchedule(months []time.Month) (Schedule, error) {
	if !ValidateCombination(months) {
		return Schedule{}, ErrInvalidSchedule
	}
	copied := make([]time.Month, len(months))
	copy(copied, months)
	return Schedule{months: copied}, nil
}

// Months returns a copy of the schedule's months in the order given at
// construction.
func (s Schedule) Months() []time.Month {
	out := make([]time.Month, len(s.months))
	copy(out, s.months)
	return out
}

// Len returns the number of payment months in the schedule.
func (s Schedule) Len() int {
	return len(s.months)
}
