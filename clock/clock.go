// Package clock maps discrete ticks onto a compressed simulated calendar.
//
// A simulated day lasts DayMinutes simulated minutes; real clock strings such
// as "08:30" are scaled into that range and back for display. TickToTime is a
// pure function of the tick and the configuration.
package clock

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/classmesh/core"
)

const realDayMinutes = 1440

const dateLayout = "2006-01-02"

// Weekdays lists the canonical weekday abbreviations.
var Weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// CalendarConfig describes the compressed day and the semester.
type CalendarConfig struct {
	DayMinutes     int            `yaml:"day_minutes" json:"day_minutes"`
	StartTime      string         `yaml:"start_time" json:"start_time"`
	StartDay       string         `yaml:"start_day" json:"start_day"`
	MinutesPerTick int            `yaml:"minutes_per_tick" json:"minutes_per_tick"`
	Weekdays       []string       `yaml:"weekdays" json:"weekdays"`
	SchoolDays     []string       `yaml:"school_days" json:"school_days"`
	Semester       SemesterConfig `yaml:"semester" json:"semester"`
}

// SemesterConfig describes the academic calendar. Precedence lists the week
// modes checked in order before falling back to the week plan.
type SemesterConfig struct {
	StartDate   string          `yaml:"start_date" json:"start_date"`
	Weeks       int             `yaml:"weeks" json:"weeks"`
	Holidays    []string        `yaml:"holidays" json:"holidays,omitempty"`
	MakeupDays  []string        `yaml:"makeup_days" json:"makeup_days,omitempty"`
	ExamWeeks   []int           `yaml:"exam_weeks" json:"exam_weeks,omitempty"`
	ReviewWeeks []int           `yaml:"review_weeks" json:"review_weeks,omitempty"`
	WeekPlan    []string        `yaml:"week_plan" json:"week_plan,omitempty"`
	Precedence  []core.WeekMode `yaml:"precedence" json:"precedence,omitempty"`
}

// DefaultCalendar returns a 240 minute day starting Monday at noon.
func DefaultCalendar() CalendarConfig {
	return CalendarConfig{
		DayMinutes:     240,
		StartTime:      "12:00",
		StartDay:       "Mon",
		MinutesPerTick: 1,
		Weekdays:       slices.Clone(Weekdays),
		SchoolDays:     slices.Clone(Weekdays[:5]),
		Semester: SemesterConfig{
			StartDate:  "2025-09-01",
			Weeks:      18,
			Precedence: []core.WeekMode{core.WeekExam, core.WeekReview},
		},
	}
}

// Validate reports the first invalid field as a *core.ConfigError.
func (c CalendarConfig) Validate() error {
	if c.DayMinutes <= 0 {
		return core.NewConfigError("calendar.day_minutes", "must be positive, got %d", c.DayMinutes)
	}
	if c.MinutesPerTick <= 0 {
		return core.NewConfigError("calendar.minutes_per_tick", "must be positive, got %d", c.MinutesPerTick)
	}
	if _, err := ParseClock(c.StartTime); err != nil {
		return &core.ConfigError{Field: "calendar.start_time", Err: err}
	}
	if len(c.Weekdays) == 0 {
		return core.NewConfigError("calendar.weekdays", "must not be empty")
	}
	for _, d := range append(slices.Clone(c.Weekdays), c.SchoolDays...) {
		if !slices.Contains(Weekdays, d) {
			return core.NewConfigError("calendar.weekdays", "unknown weekday %q", d)
		}
	}
	if c.StartDay != "" && !slices.Contains(c.Weekdays, c.StartDay) {
		return core.NewConfigError("calendar.start_day", "%q is not in weekdays", c.StartDay)
	}
	return c.Semester.Validate()
}

// Validate checks the semester dates and week lists.
func (s SemesterConfig) Validate() error {
	if s.StartDate != "" {
		if _, err := time.Parse(dateLayout, s.StartDate); err != nil {
			return &core.ConfigError{Field: "calendar.semester.start_date", Err: err}
		}
	}
	for _, d := range append(slices.Clone(s.Holidays), s.MakeupDays...) {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return &core.ConfigError{Field: "calendar.semester.holidays", Err: err}
		}
	}
	for _, w := range append(slices.Clone(s.ExamWeeks), s.ReviewWeeks...) {
		if w <= 0 {
			return core.NewConfigError("calendar.semester", "week numbers start at 1, got %d", w)
		}
	}
	for _, m := range s.Precedence {
		if m != core.WeekExam && m != core.WeekReview {
			return core.NewConfigError("calendar.semester.precedence", "unsupported mode %q", m)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM", wrapping at 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % realDayMinutes) + realDayMinutes) % realDayMinutes
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ToSimMinutes scales a real clock string into the compressed day.
// Unparseable input maps to minute 0.
func ToSimMinutes(cfg CalendarConfig, clock string) int {
	real, err := ParseClock(clock)
	if err != nil {
		return 0
	}
	return int(math.Round(float64(real) * float64(dayMinutes(cfg)) / realDayMinutes))
}

// ToClockTime scales a simulated minute back to a real clock string.
func ToClockTime(cfg CalendarConfig, simMinute int) string {
	real := int(math.Round(float64(simMinute) * realDayMinutes / float64(dayMinutes(cfg))))
	return FormatClock(real)
}

// TickToTime computes the simulated wall clock for tick. It has no side
// effects; equal inputs always yield equal output.
func TickToTime(tick int64, cfg CalendarConfig) core.SimTime {
	dm := int64(dayMinutes(cfg))
	mpt := int64(cfg.MinutesPerTick)
	if mpt <= 0 {
		mpt = 1
	}
	total := int64(ToSimMinutes(cfg, startTime(cfg))) + tick*mpt
	dayIndex := floorDiv(total, dm)
	simMinute := int(total - dayIndex*dm)

	days := weekdays(cfg)
	startIdx := max(slices.Index(days, cfg.StartDay), 0)
	weekday := days[(startIdx+int(dayIndex%int64(len(days)))+len(days))%len(days)]

	weekIndex := int(floorDiv(dayIndex, int64(len(days)))) + 1
	weekType, mode := ResolveWeek(weekIndex, cfg.Semester)

	date := semesterStart(cfg.Semester).AddDate(0, 0, int(dayIndex))
	dateStr := date.Format(dateLayout)
	holiday := slices.Contains(cfg.Semester.Holidays, dateStr) && !slices.Contains(cfg.Semester.MakeupDays, dateStr)
	schoolDay := slices.Contains(cfg.Semester.MakeupDays, dateStr) ||
		(!holiday && slices.Contains(schoolDays(cfg), weekday))

	return core.SimTime{
		Tick:      tick,
		DayIndex:  int(dayIndex),
		Weekday:   weekday,
		SimMinute: simMinute,
		ClockTime: ToClockTime(cfg, simMinute),
		Date:      dateStr,
		WeekIndex: weekIndex,
		WeekType:  weekType,
		WeekMode:  mode,
		SchoolDay: schoolDay,
		Holiday:   holiday,
	}
}

// ResolveWeek returns the week type label and mode for a 1-based week index.
// Modes in Precedence are checked first (exam before review by default),
// then the week plan cycle, then A/B alternation.
func ResolveWeek(weekIndex int, s SemesterConfig) (string, core.WeekMode) {
	precedence := s.Precedence
	if len(precedence) == 0 {
		precedence = []core.WeekMode{core.WeekExam, core.WeekReview}
	}
	for _, m := range precedence {
		switch {
		case m == core.WeekExam && slices.Contains(s.ExamWeeks, weekIndex):
			return string(core.WeekExam), core.WeekExam
		case m == core.WeekReview && slices.Contains(s.ReviewWeeks, weekIndex):
			return string(core.WeekReview), core.WeekReview
		}
	}
	if len(s.WeekPlan) > 0 {
		label := s.WeekPlan[(weekIndex-1)%len(s.WeekPlan)]
		mode := core.WeekMode(label)
		if mode != core.WeekExam && mode != core.WeekReview {
			mode = core.WeekTeaching
		}
		return label, mode
	}
	if weekIndex%2 == 1 {
		return "A", core.WeekTeaching
	}
	return "B", core.WeekTeaching
}

// WeekSummary describes one week of the semester.
type WeekSummary struct {
	Index int           `json:"index"`
	Type  string        `json:"type"`
	Mode  core.WeekMode `json:"mode"`
}

// Semester lists every configured week with its type and mode.
func Semester(s SemesterConfig) []WeekSummary {
	out := make([]WeekSummary, 0, s.Weeks)
	for i := 1; i <= s.Weeks; i++ {
		t, m := ResolveWeek(i, s)
		out = append(out, WeekSummary{Index: i, Type: t, Mode: m})
	}
	return out
}

// TicksPerDay returns how many ticks make up one simulated day.
func TicksPerDay(cfg CalendarConfig) int64 {
	mpt := max(cfg.MinutesPerTick, 1)
	return int64(dayMinutes(cfg) / mpt)
}

func dayMinutes(cfg CalendarConfig) int {
	if cfg.DayMinutes <= 0 {
		return realDayMinutes
	}
	return cfg.DayMinutes
}

func startTime(cfg CalendarConfig) string {
	if cfg.StartTime == "" {
		return "00:00"
	}
	return cfg.StartTime
}

func weekdays(cfg CalendarConfig) []string {
	if len(cfg.Weekdays) == 0 {
		return Weekdays
	}
	return cfg.Weekdays
}

func schoolDays(cfg CalendarConfig) []string {
	if cfg.SchoolDays == nil {
		return Weekdays[:5]
	}
	return cfg.SchoolDays
}

func semesterStart(s SemesterConfig) time.Time {
	if t, err := time.Parse(dateLayout, s.StartDate); err == nil {
		return t
	}
	return time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
