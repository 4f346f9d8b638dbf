// Package stats computes streaks and completion progress for habits.
//
// Periods follow the local calendar of the evaluation instant: a day runs
// from local midnight to local midnight, and a week starts on Sunday.
// Nothing here touches storage; callers pass the raw completion timestamps
// and every read recomputes from history.
package stats

import (
	"math"
	"sort"
	"time"

	"habitly/internal/model"
)

const (
	// ProgressWindow is the trailing window counted by ProgressPercent.
	ProgressWindow = 30 * 24 * time.Hour

	expectedDaily  = 30
	expectedWeekly = 5 // ceil(30/7)
)

// Result holds the statistics of one habit at one instant.
type Result struct {
	Streak                 int
	CompletedCurrentPeriod bool
	ProgressPercent        int
}

// PeriodStart returns the first instant of the period containing t, in loc.
// Any frequency other than weekly is treated as daily.
func PeriodStart(freq model.Frequency, t time.Time, loc *time.Location) time.Time {
	return startOfDay(periodDate(freq, t, loc), loc)
}

// Window returns the half-open period [start, end) containing asOf.
func Window(freq model.Frequency, asOf time.Time) (start, end time.Time) {
	loc := asOf.Location()
	day := periodDate(freq, asOf, loc)
	return startOfDay(day, loc), startOfDay(next(freq, day), loc)
}

// periodDate returns the calendar date the period containing t starts on,
// as midnight UTC. Periods are compared and stepped as dates so that a
// skipped local midnight cannot shift them.
func periodDate(freq model.Frequency, t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if freq == model.FrequencyWeekly {
		day = day.AddDate(0, 0, -int(day.Weekday()))
	}
	return day
}

// startOfDay returns the first instant of the calendar date day in loc.
func startOfDay(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if ty, tm, td := t.Date(); ty == y && tm == m && td == d {
		return t
	}
	// Midnight was skipped by a clock change and t landed on the previous
	// day; the date begins at the jump, which is midnight at t's offset.
	_, offset := t.Zone()
	return time.Date(y, m, d, 0, 0, 0, 0, time.FixedZone("", offset)).In(loc)
}

// Compute evaluates completions as of asOf. The slice is not modified and
// may be in any order.
func Compute(freq model.Frequency, completions []time.Time, asOf time.Time) Result {
	var res Result
	if len(completions) == 0 {
		return res
	}

	loc := asOf.Location()
	sorted := make([]time.Time, len(completions))
	copy(sorted, completions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })

	current := periodDate(freq, asOf, loc)
	cursor := current
	walking := true
	cutoff := asOf.Add(-ProgressWindow)
	recent := 0

	for _, ts := range sorted {
		period := periodDate(freq, ts, loc)
		if period.Equal(current) {
			res.CompletedCurrentPeriod = true
		}
		if !ts.Before(cutoff) {
			recent++
		}
		if !walking {
			continue
		}
		switch {
		case period.Equal(cursor):
			res.Streak++
			cursor = prev(freq, cursor)
		case period.Before(cursor):
			walking = false
		}
	}

	res.ProgressPercent = progress(freq, recent)
	return res
}

// Streak is a shorthand for Compute(...).Streak.
func Streak(freq model.Frequency, completions []time.Time, asOf time.Time) int {
	return Compute(freq, completions, asOf).Streak
}

func progress(freq model.Frequency, recent int) int {
	expected := expectedDaily
	if freq == model.FrequencyWeekly {
		expected = expectedWeekly
	}
	pct := int(math.Round(100 * float64(recent) / float64(expected)))
	if pct > 100 {
		return 100
	}
	return pct
}

func prev(freq model.Frequency, period time.Time) time.Time {
	if freq == model.FrequencyWeekly {
		return period.AddDate(0, 0, -7)
	}
	return period.AddDate(0, 0, -1)
}

func next(freq model.Frequency, period time.Time) time.Time {
	if freq == model.FrequencyWeekly {
		return period.AddDate(0, 0, 7)
	}
	return period.AddDate(0, 0, 1)
}
