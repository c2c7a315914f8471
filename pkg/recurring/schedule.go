package recurring

import "time"

// Decision is the outcome of evaluating a rule against a reference date.
type Decision struct {
	Due bool
	// OccurrenceDate is the date the materialized transaction should carry.
	// Only meaningful when Due is true.
	OccurrenceDate time.Time
}

// DateOnly truncates t to day granularity in UTC. The engine works purely in
// dates; time of day never influences due-ness.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance returns the next occurrence date after from for the given
// frequency. Monthly and yearly steps clamp to the last valid day of the
// target month (Jan 31 + monthly = Feb 28, or Feb 29 in a leap year).
func Advance(from time.Time, freq Frequency) time.Time {
	from = DateOnly(from)
	switch freq {
	case Daily:
		return from.AddDate(0, 0, 1)
	case Weekly:
		return from.AddDate(0, 0, 7)
	case Monthly:
		return addMonthsClamped(from, 1)
	case Yearly:
		return addMonthsClamped(from, 12)
	}
	return from
}

// addMonthsClamped adds whole calendar months, clamping the day of month when
// the target month is shorter. time.AddDate would normalize Jan 31 + 1 month
// to Mar 2/3, which is not what a "monthly on the 31st" rule means.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysInMonth(firstOfTarget); d > last {
		d = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// Evaluate decides whether a rule is due at the reference instant now. It is
// a pure function: no side effects, safe to call repeatedly with the same
// inputs. The caller must only pass active rules.
//
// A rule that has never fired is due as soon as its start date is reached,
// dated now. Afterwards it is due when one full period has elapsed since the
// watermark. At most one occurrence is reported per evaluation even when
// several periods have gone by: missed periods are deliberately not backfilled,
// so a long downtime yields a single overdue occurrence rather than a backlog.
func Evaluate(r Rule, now time.Time) Decision {
	today := DateOnly(now)
	if r.EndDate != nil && today.After(DateOnly(*r.EndDate)) {
		return Decision{}
	}
	if r.LastProcessed == nil {
		if DateOnly(r.StartDate).After(today) {
			return Decision{}
		}
		return Decision{Due: true, OccurrenceDate: today}
	}
	next := Advance(*r.LastProcessed, r.Frequency)
	if next.After(today) {
		return Decision{}
	}
	return Decision{Due: true, OccurrenceDate: today}
}
