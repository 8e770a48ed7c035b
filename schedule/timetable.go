package schedule

import (
	"fmt"
	"slices"

	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
)

// ValidateEntries checks timetable entries against the calendar weekdays.
func ValidateEntries(cal clock.CalendarConfig, entries []core.TimetableEntry) error {
	days := cal.Weekdays
	if len(days) == 0 {
		days = clock.Weekdays
	}
	for i, e := range entries {
		field := fmt.Sprintf("timetable[%d]", i)
		if e.Group == "" {
			return core.NewConfigError(field+".group", "is required")
		}
		if e.TeacherID == "" {
			return core.NewConfigError(field+".teacher_id", "is required")
		}
		if len(e.Weekdays) == 0 {
			return core.NewConfigError(field+".weekdays", "must not be empty")
		}
		for _, d := range e.Weekdays {
			if !slices.Contains(days, d) {
				return core.NewConfigError(field+".weekdays", "unknown weekday %q", d)
			}
		}
		start, err := clock.ParseClock(e.StartTime)
		if err != nil {
			return &core.ConfigError{Field: field + ".start_time", Err: err}
		}
		if e.EndTime != "" {
			end, err := clock.ParseClock(e.EndTime)
			if err != nil {
				return &core.ConfigError{Field: field + ".end_time", Err: err}
			}
			if end <= start {
				return core.NewConfigError(field+".end_time", "must be after start_time")
			}
		}
	}
	return nil
}

type slot struct {
	start int
	end   int // -1 when open ended
	entry core.TimetableEntry
}

// Timetable indexes lesson entries by weekday and simulated start minute.
type Timetable struct {
	entries []core.TimetableEntry
	byDay   map[string][]slot
}

// NewTimetable builds an index of entries on the compressed clock of cal.
func NewTimetable(cal clock.CalendarConfig, entries []core.TimetableEntry) *Timetable {
	t := &Timetable{entries: slices.Clone(entries), byDay: make(map[string][]slot)}
	for _, e := range entries {
		s := slot{start: clock.ToSimMinutes(cal, e.StartTime), end: -1, entry: e}
		if e.EndTime != "" {
			s.end = clock.ToSimMinutes(cal, e.EndTime)
		}
		for _, d := range e.Weekdays {
			t.byDay[d] = append(t.byDay[d], s)
		}
	}
	return t
}

// Entries returns all entries in configuration order.
func (t *Timetable) Entries() []core.TimetableEntry {
	return slices.Clone(t.entries)
}

// ForGroup returns the entries of a group; GroupAll returns every entry.
func (t *Timetable) ForGroup(group string) []core.TimetableEntry {
	if group == "" || group == core.GroupAll {
		return t.Entries()
	}
	var out []core.TimetableEntry
	for _, e := range t.entries {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

// StartingIn returns entries on weekday starting in [from, from+span) along
// with their duration in simulated minutes (0 when open ended).
func (t *Timetable) StartingIn(weekday string, from, span int) ([]core.TimetableEntry, []int) {
	var entries []core.TimetableEntry
	var durations []int
	for _, s := range t.byDay[weekday] {
		if s.start >= from && s.start < from+max(span, 1) {
			entries = append(entries, s.entry)
			d := 0
			if s.end > s.start {
				d = s.end - s.start
			}
			durations = append(durations, d)
		}
	}
	return entries, durations
}
