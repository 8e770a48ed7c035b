package schedule

import (
	"slices"

	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
)

// Routine actions.
const (
	ActionWake             = "wake"
	ActionBreakfastStart   = "breakfast_start"
	ActionBreakfastEnd     = "breakfast_end"
	ActionMorningClasses   = "morning_classes"
	ActionTestStart        = "test_start"
	ActionTestEnd          = "test_end"
	ActionLunchStart       = "lunch_start"
	ActionLunchEnd         = "lunch_end"
	ActionAfternoonClasses = "afternoon_classes"
	ActionSchoolEnd        = "school_end"
	ActionReviewBreak      = "review_break"
	ActionReviewHome       = "review_home"
	ActionHoliday          = "holiday"
)

// Review intensities of break and after-school reviews.
const (
	BreakReviewIntensity = 0.04
	HomeReviewIntensity  = 0.06
)

// Routine is the daily timeline of a school day, in real clock strings.
type Routine struct {
	WakeTime                string `yaml:"wake_time" json:"wake_time"`
	BreakfastStart          string `yaml:"breakfast_start" json:"breakfast_start"`
	BreakfastEnd            string `yaml:"breakfast_end" json:"breakfast_end"`
	MorningClassStart       string `yaml:"morning_class_start" json:"morning_class_start"`
	MorningClassCount       int    `yaml:"morning_class_count" json:"morning_class_count"`
	ClassDuration           int    `yaml:"class_duration" json:"class_duration"`
	BreakDuration           int    `yaml:"break_duration" json:"break_duration"`
	TestStart               string `yaml:"test_start" json:"test_start"`
	TestEnd                 string `yaml:"test_end" json:"test_end"`
	LunchStart              string `yaml:"lunch_start" json:"lunch_start"`
	LunchEnd                string `yaml:"lunch_end" json:"lunch_end"`
	AfternoonClassStart     string `yaml:"afternoon_class_start" json:"afternoon_class_start"`
	AfternoonClassCount     int    `yaml:"afternoon_class_count" json:"afternoon_class_count"`
	SchoolEnd               string `yaml:"school_end" json:"school_end"`
	ReviewBreaks            bool   `yaml:"review_breaks" json:"review_breaks"`
	ReviewAfterSchool       bool   `yaml:"review_after_school" json:"review_after_school"`
	AfterSchoolReviewOffset int    `yaml:"after_school_review_offset" json:"after_school_review_offset"`
}

// DefaultRoutine returns a typical boarding school day.
func DefaultRoutine() Routine {
	return Routine{
		WakeTime:                "08:00",
		BreakfastStart:          "08:20",
		BreakfastEnd:            "08:40",
		MorningClassStart:       "08:50",
		MorningClassCount:       3,
		ClassDuration:           40,
		BreakDuration:           10,
		TestStart:               "11:20",
		TestEnd:                 "12:00",
		LunchStart:              "12:00",
		LunchEnd:                "14:00",
		AfternoonClassStart:     "14:00",
		AfternoonClassCount:     5,
		SchoolEnd:               "18:00",
		ReviewBreaks:            true,
		ReviewAfterSchool:       true,
		AfterSchoolReviewOffset: 10,
	}
}

// Validate checks every clock string and count.
func (r Routine) Validate() error {
	clocks := []struct{ field, value string }{
		{"routine.wake_time", r.WakeTime},
		{"routine.breakfast_start", r.BreakfastStart},
		{"routine.breakfast_end", r.BreakfastEnd},
		{"routine.morning_class_start", r.MorningClassStart},
		{"routine.test_start", r.TestStart},
		{"routine.test_end", r.TestEnd},
		{"routine.lunch_start", r.LunchStart},
		{"routine.lunch_end", r.LunchEnd},
		{"routine.afternoon_class_start", r.AfternoonClassStart},
		{"routine.school_end", r.SchoolEnd},
	}
	for _, c := range clocks {
		if _, err := clock.ParseClock(c.value); err != nil {
			return &core.ConfigError{Field: c.field, Err: err}
		}
	}
	if r.MorningClassCount < 0 || r.AfternoonClassCount < 0 {
		return core.NewConfigError("routine.class_count", "must not be negative")
	}
	if r.ClassDuration <= 0 {
		return core.NewConfigError("routine.class_duration", "must be positive, got %d", r.ClassDuration)
	}
	if r.BreakDuration < 0 {
		return core.NewConfigError("routine.break_duration", "must not be negative")
	}
	return nil
}

// DailyRoutine resolves routine actions on the compressed clock.
type DailyRoutine struct {
	actions      map[int][]string
	reviewBreaks []int
	reviewHome   int
	testStart    int
}

// NewDailyRoutine converts r into simulated minutes under cal.
func NewDailyRoutine(cal clock.CalendarConfig, r Routine) *DailyRoutine {
	d := &DailyRoutine{actions: make(map[int][]string), reviewHome: -1}
	add := func(at, action string) {
		m := clock.ToSimMinutes(cal, at)
		d.actions[m] = append(d.actions[m], action)
	}
	add(r.WakeTime, ActionWake)
	add(r.BreakfastStart, ActionBreakfastStart)
	add(r.BreakfastEnd, ActionBreakfastEnd)
	add(r.MorningClassStart, ActionMorningClasses)
	add(r.TestStart, ActionTestStart)
	add(r.TestEnd, ActionTestEnd)
	add(r.LunchStart, ActionLunchStart)
	add(r.LunchEnd, ActionLunchEnd)
	add(r.AfternoonClassStart, ActionAfternoonClasses)
	add(r.SchoolEnd, ActionSchoolEnd)
	d.testStart = clock.ToSimMinutes(cal, r.TestStart)

	if r.ReviewAfterSchool {
		end, _ := clock.ParseClock(r.SchoolEnd)
		d.reviewHome = clock.ToSimMinutes(cal, clock.FormatClock(end+r.AfterSchoolReviewOffset))
	}
	if r.ReviewBreaks {
		for _, block := range []struct {
			start string
			count int
		}{{r.MorningClassStart, r.MorningClassCount}, {r.AfternoonClassStart, r.AfternoonClassCount}} {
			start, _ := clock.ParseClock(block.start)
			// a break follows every class except the last of the block
			for i := 0; i < block.count-1; i++ {
				breakStart := start + i*(r.ClassDuration+r.BreakDuration) + r.ClassDuration
				d.reviewBreaks = append(d.reviewBreaks, clock.ToSimMinutes(cal, clock.FormatClock(breakStart)))
			}
		}
	}
	return d
}

// ActionsIn returns the actions whose minute falls in [from, from+span) on a
// school day. Non-school days have no routine.
func (d *DailyRoutine) ActionsIn(from, span int, schoolDay bool) []string {
	if d == nil || !schoolDay {
		return nil
	}
	var out []string
	for m := from; m < from+max(span, 1); m++ {
		out = append(out, d.actions[m]...)
		if slices.Contains(d.reviewBreaks, m) {
			out = append(out, ActionReviewBreak)
		}
		if m == d.reviewHome {
			out = append(out, ActionReviewHome)
		}
	}
	return out
}

// IsTestStart reports whether the test begins in [from, from+span).
func (d *DailyRoutine) IsTestStart(from, span int, schoolDay bool) bool {
	if d == nil || !schoolDay {
		return false
	}
	return d.testStart >= from && d.testStart < from+max(span, 1)
}

// SceneFor maps routine actions to the scene everyone moves to.
func SceneFor(action string) (string, bool) {
	switch action {
	case ActionBreakfastStart, ActionLunchStart:
		return "cafeteria", true
	case ActionMorningClasses, ActionAfternoonClasses, ActionTestStart:
		return "classroom", true
	case ActionSchoolEnd:
		return "corridor", true
	default:
		return "", false
	}
}
