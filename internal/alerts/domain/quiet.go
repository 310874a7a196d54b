package alerts

import (
	"errors"
	"time"
)

// QuietHours is a daily window during which non-critical alerts are
// deferred. The window may wrap past midnight (e.g. 22:00-07:00).
type QuietHours struct {
	Enabled bool
	Start   string // "15:04"
	End     string // "15:04"
}

// Validate checks the window boundaries parse.
func (q QuietHours) Validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := time.Parse("15:04", q.Start); err != nil {
		return errors.New("quiet hours: invalid start")
	}
	if _, err := time.Parse("15:04", q.End); err != nil {
		return errors.New("quiet hours: invalid end")
	}
	return nil
}

// Contains reports whether the instant falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, end, err := q.bounds()
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start > end {
		// Wraps past midnight.
		return minute >= start || minute < end
	}
	return minute >= start && minute < end
}

// NextEnd returns the next instant the window closes at or after t.
// The second return is false when the window is disabled or invalid.
func (q QuietHours) NextEnd(t time.Time) (time.Time, bool) {
	if !q.Contains(t) {
		return time.Time{}, false
	}
	_, end, err := q.bounds()
	if err != nil {
		return time.Time{}, false
	}
	endToday := time.Date(t.Year(), t.Month(), t.Day(), end/60, end%60, 0, 0, t.Location())
	if !endToday.After(t) {
		endToday = endToday.Add(24 * time.Hour)
	}
	return endToday, true
}

func (q QuietHours) bounds() (int, int, error) {
	start, err := time.Parse("15:04", q.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := time.Parse("15:04", q.End)
	if err != nil {
		return 0, 0, err
	}
	return start.Hour()*60 + start.Minute(), end.Hour()*60 + end.Minute(), nil
}
