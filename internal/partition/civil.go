package partition

import "time"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func NextDay(t time.Time) time.Time { return Day(t).AddDate(0, 0, 1) }

func PrevDay(t time.Time) time.Time { return Day(t).AddDate(0, 0, -1) }

// DaysInclusive counts calendar days in [start, end]. DaysInclusive(d, d) == 1.
func DaysInclusive(start, end time.Time) int {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// EachDay lists every calendar day in [start, end] in order.
func EachDay(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ClampWindow intersects [start, end] with [windowStart, windowEnd].
// ok is false when the intersection is empty.
func ClampWindow(start, end, windowStart, windowEnd time.Time) (time.Time, time.Time, bool) {
	s, e := Day(start), Day(end)
	ws, we := Day(windowStart), Day(windowEnd)
	if s.Before(ws) {
		s = ws
	}
	if e.After(we) {
		e = we
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, false
	}
	return s, e, true
}

// Overlaps reports whether the inclusive ranges [aStart, aEnd] and
// [bStart, bEnd] share at least one day.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !Day(aStart).After(Day(bEnd)) && !Day(bStart).After(Day(aEnd))
}
