package alerts

import "time"

// Night hours run from 22:00 through 06:59 local time.
const (
	nightStartHour = 22
	nightEndHour   = 7
)

// CalendarContext records which contextual conditions apply at an instant.
type CalendarContext struct {
	IsWeekend bool
	IsNight   bool
	IsHoliday bool
}

// Holidays is a set of fixed-date holidays in "01-02" (month-day) form.
type Holidays map[string]struct{}

// NewHolidays builds a holiday set from month-day strings.
func NewHolidays(dates []string) Holidays {
	set := make(Holidays, len(dates))
	for _, d := range dates {
		if d == "" {
			continue
		}
		set[d] = struct{}{}
	}
	return set
}

// Contains reports whether t falls on a configured holiday.
func (h Holidays) Contains(t time.Time) bool {
	if len(h) == 0 {
		return false
	}
	_, ok := h[t.Format("01-02")]
	return ok
}

// CalendarFor derives the calendar context for an instant.
func CalendarFor(t time.Time, holidays Holidays) CalendarContext {
	weekday := t.Weekday()
	hour := t.Hour()
	return CalendarContext{
		IsWeekend: weekday == time.Saturday || weekday == time.Sunday,
		IsNight:   hour >= nightStartHour || hour < nightEndHour,
		IsHoliday: holidays.Contains(t),
	}
}
