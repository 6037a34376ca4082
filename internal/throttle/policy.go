package throttle

import "time"

// Policy computes when a window opened at now closes.
type Policy func(now time.Time) time.Time

// For keeps the window open for d.
func For(d time.Duration) Policy {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// UntilNextLocal keeps the window open until the next hour:00 in loc.
// At or after hour:00 the window runs to hour:00 tomorrow.
func UntilNextLocal(hour int, loc *time.Location) Policy {
	if loc == nil {
		loc = time.Local
	}
	return func(now time.Time) time.Time {
		local := now.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
		if !local.Before(next) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// Forever never closes; entries are removed only by Gate.Clear.
func Forever() Policy {
	return func(time.Time) time.Time { return farFuture }
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
