package scheduler

import "time"

// BusinessHours is the weekly window business-hours-only executions run in,
// evaluated in the workflow's timezone. End is exclusive.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Days      []time.Weekday
}

// DefaultBusinessHours is 09:00 to 17:00, Monday to Friday.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		StartHour: 9,
		EndHour:   17,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

func (b BusinessHours) isZero() bool {
	return b.StartHour == 0 && b.EndHour == 0 && len(b.Days) == 0
}

func (b BusinessHours) openOn(d time.Weekday) bool {
	for _, wd := range b.Days {
		if wd == d {
			return true
		}
	}
	return false
}

// Next returns t when it falls inside the window, otherwise the start of the
// next window. The result stays in t's location.
func (b BusinessHours) Next(t time.Time) time.Time {
	if len(b.Days) == 0 || b.EndHour <= b.StartHour {
		return t
	}
	for i := 0; i < 8; i++ {
		day := t.AddDate(0, 0, i)
		if !b.openOn(day.Weekday()) {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), b.StartHour, 0, 0, 0, t.Location())
		closeAt := time.Date(day.Year(), day.Month(), day.Day(), b.EndHour, 0, 0, 0, t.Location())
		if i == 0 {
			if t.Before(open) {
				return open
			}
			if t.Before(closeAt) {
				return t
			}
			continue
		}
		return open
	}
	return t
}

// nextHour returns the first time at or after t whose wall clock reads hour:00.
func nextHour(t time.Time, hour int) time.Time {
	at := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
	if at.Before(t) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
