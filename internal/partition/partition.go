// Package partition splits a reporting window into sub-intervals of constant
// percentage composition using a sweep line over assignment boundaries.
package partition

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Assignment is a time-bounded percentage attribution of one usage type.
// Bounds are inclusive calendar days.
type Assignment struct {
	UsageTypeID snowflake.ID
	Percent     decimal.Decimal
	StartsAt    time.Time
	EndsAt      time.Time
}

// Segment is a maximal sub-interval of the window over which the percentage
// composition is constant. Bounds are inclusive.
type Segment struct {
	Start       time.Time
	End         time.Time
	Percentages map[snowflake.ID]decimal.Decimal
}

// PercentSum adds up the segment's percentages. Valid data sums to 100.
func (s Segment) PercentSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range s.Percentages {
		sum = sum.Add(p)
	}
	return sum
}

// Partition walks assignment start and end events in date order, maintaining
// the set of currently active percentages. A segment is emitted whenever an
// assignment ends; the next segment begins the following day. Assignment
// bounds are clamped to the window, and when two assignments for the same
// usage type overlap, the later-starting one wins from its start date onward.
func Partition(windowStart, windowEnd time.Time, assignments []Assignment) []Segment {
	windowStart, windowEnd = Day(windowStart), Day(windowEnd)

	type clamped struct {
		Assignment
		start, end time.Time
	}

	active := make([]clamped, 0, len(assignments))
	for _, a := range assignments {
		s, e, ok := ClampWindow(a.StartsAt, a.EndsAt, windowStart, windowEnd)
		if !ok {
			continue
		}
		active = append(active, clamped{Assignment: a, start: s, end: e})
	}
	// Start-ordered so that a later-starting duplicate overwrites.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].StartsAt.Before(active[j].StartsAt)
	})

	starts := make(map[time.Time][]int)
	ends := make(map[time.Time][]int)
	dateSet := make(map[time.Time]struct{})
	for i, c := range active {
		starts[c.start] = append(starts[c.start], i)
		ends[c.end] = append(ends[c.end], i)
		dateSet[c.start] = struct{}{}
		dateSet[c.end] = struct{}{}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	current := make(map[snowflake.ID]decimal.Decimal)
	owner := make(map[snowflake.ID]int)
	segStart := windowStart

	var segments []Segment
	for _, d := range dates {
		for _, i := range starts[d] {
			current[active[i].UsageTypeID] = active[i].Percent
			owner[active[i].UsageTypeID] = i
		}
		if len(ends[d]) == 0 {
			continue
		}
		if !d.Before(segStart) && len(current) > 0 {
			segments = append(segments, Segment{
				Start:       segStart,
				End:         d,
				Percentages: snapshot(current),
			})
		}
		for _, i := range ends[d] {
			if owner[active[i].UsageTypeID] == i {
				delete(current, active[i].UsageTypeID)
				delete(owner, active[i].UsageTypeID)
			}
		}
		segStart = NextDay(d)
	}

	return segments
}

func snapshot(m map[snowflake.ID]decimal.Decimal) map[snowflake.ID]decimal.Decimal {
	out := make(map[snowflake.ID]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
