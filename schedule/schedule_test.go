package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
)

func testRegistry(t *testing.T) *core.Registry {
	t.Helper()
	reg := core.NewRegistry()
	for _, p := range []core.AgentProfile{
		{ID: "t1", Name: "Teacher", Role: core.RoleTeacher, Group: "g1"},
		{ID: "s1", Name: "Ada", Role: core.RoleStudent, Group: "g1"},
		{ID: "s2", Name: "Bo", Role: core.RoleStudent, Group: "g1"},
	} {
		require.NoError(t, reg.Add(p))
	}
	return reg
}

func testCurriculum() *curriculum.Curriculum {
	return curriculum.New(curriculum.Config{
		Courses: []curriculum.Course{{
			ID:   "math",
			Name: "Math",
			Units: []curriculum.Unit{{
				ID:      "u1",
				Lessons: []curriculum.Lesson{{ID: "l1", Name: "Fractions", Concepts: []string{"halves", "thirds"}}},
			}},
		}},
		Concepts: []curriculum.Concept{{ID: "halves", Name: "Halves"}, {ID: "thirds", Name: "Thirds"}},
	})
}

func testConfig() Config {
	return Config{
		Calendar: clock.DefaultCalendar(),
		Routine:  DefaultRoutine(),
		Timetable: []core.TimetableEntry{{
			Group:     "g1",
			TeacherID: "t1",
			Topic:     "math",
			CourseID:  "math",
			Weekdays:  []string{"Mon", "Tue"},
			StartTime: "14:00",
			EndTime:   "14:40",
		}},
	}
}

func runTicks(g *Generator, cal clock.CalendarConfig, from, to int64) map[int64][]Event {
	out := make(map[int64][]Event)
	for tick := from; tick <= to; tick++ {
		if evs := g.EventsFor(clock.TickToTime(tick, cal)); len(evs) > 0 {
			out[tick] = evs
		}
	}
	return out
}

func types(evs []Event) []core.EventType {
	out := make([]core.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestRoutine_Validate(t *testing.T) {
	require.NoError(t, DefaultRoutine().Validate())

	r := DefaultRoutine()
	r.TestStart = "25:99"
	var cfgErr *core.ConfigError
	require.ErrorAs(t, r.Validate(), &cfgErr)
	assert.Equal(t, "routine.test_start", cfgErr.Field)

	r = DefaultRoutine()
	r.ClassDuration = 0
	require.ErrorAs(t, r.Validate(), &cfgErr)
	assert.Equal(t, "routine.class_duration", cfgErr.Field)
}

func TestValidateEntries(t *testing.T) {
	cal := clock.DefaultCalendar()
	require.NoError(t, ValidateEntries(cal, testConfig().Timetable))

	bad := testConfig().Timetable
	bad[0].Weekdays = []string{"Funday"}
	var cfgErr *core.ConfigError
	require.ErrorAs(t, ValidateEntries(cal, bad), &cfgErr)
	assert.Equal(t, "timetable[0].weekdays", cfgErr.Field)

	bad = testConfig().Timetable
	bad[0].EndTime = "13:00"
	require.ErrorAs(t, ValidateEntries(cal, bad), &cfgErr)
	assert.Equal(t, "timetable[0].end_time", cfgErr.Field)
}

func TestDailyRoutine_Actions(t *testing.T) {
	cal := clock.DefaultCalendar()
	d := NewDailyRoutine(cal, DefaultRoutine())

	lunch := clock.ToSimMinutes(cal, "12:00")
	assert.ElementsMatch(t, []string{ActionTestEnd, ActionLunchStart}, d.ActionsIn(lunch, 1, true))
	assert.Empty(t, d.ActionsIn(lunch, 1, false))

	// first morning break starts after the first 40 minute class
	brk := clock.ToSimMinutes(cal, "09:30")
	assert.Contains(t, d.ActionsIn(brk, 1, true), ActionReviewBreak)

	home := clock.ToSimMinutes(cal, "18:10")
	assert.Contains(t, d.ActionsIn(home, 1, true), ActionReviewHome)

	assert.True(t, d.IsTestStart(clock.ToSimMinutes(cal, "11:20"), 1, true))
	assert.False(t, d.IsTestStart(clock.ToSimMinutes(cal, "11:20"), 1, false))
}

func TestDailyRoutine_WideTickWindow(t *testing.T) {
	cal := clock.DefaultCalendar()
	cal.MinutesPerTick = 10
	d := NewDailyRoutine(cal, DefaultRoutine())
	wake := clock.ToSimMinutes(cal, "08:00")
	assert.Contains(t, d.ActionsIn(wake-5, 10, true), ActionWake)
}

func TestSceneFor(t *testing.T) {
	scene, ok := SceneFor(ActionLunchStart)
	require.True(t, ok)
	assert.Equal(t, "cafeteria", scene)
	scene, _ = SceneFor(ActionTestStart)
	assert.Equal(t, "classroom", scene)
	scene, _ = SceneFor(ActionSchoolEnd)
	assert.Equal(t, "corridor", scene)
	_, ok = SceneFor(ActionWake)
	assert.False(t, ok)
}

func TestGenerator_ClassSessionWithLessonPlan(t *testing.T) {
	cfg := testConfig()
	cur := testCurriculum()
	g := New(cfg, cur, testRegistry(t))
	events := runTicks(g, cfg.Calendar, 0, 30)

	// 14:00 maps to sim minute 140, the start time 12:00 to 120
	evs := events[20]
	require.NotEmpty(t, evs)
	var session Event
	for _, ev := range evs {
		if ev.Type == core.EventClassSession {
			session = ev
		}
	}
	require.Equal(t, core.EventClassSession, session.Type)
	assert.Equal(t, "g1", session.Group)
	assert.Equal(t, "t1", session.TeacherID)
	assert.Equal(t, "l1", session.LessonID)
	assert.Equal(t, []string{"halves", "thirds"}, session.Concepts)
	assert.Contains(t, session.LessonPlan, "Fractions · concepts:")
	assert.Equal(t, int64(27), session.EndTick)
	assert.Equal(t, "g1", session.Entry.Group)
	assert.Equal(t, []string{"halves", "thirds"}, g.Taught(0, "g1"))

	assert.Contains(t, types(evs), core.EventAnnouncement)
}

func TestGenerator_ReviewAfterClass(t *testing.T) {
	cfg := testConfig()
	g := New(cfg, testCurriculum(), testRegistry(t))
	events := runTicks(g, cfg.Calendar, 0, 30)

	// 14:40 is the first afternoon break
	var review *Event
	for _, ev := range events[27] {
		if ev.Type == core.EventReview {
			review = &ev
		}
	}
	require.NotNil(t, review)
	assert.Equal(t, "g1", review.Group)
	assert.InDelta(t, BreakReviewIntensity, review.Intensity, 1e-9)
	assert.Equal(t, []string{"halves", "thirds"}, review.Concepts)
}

func TestGenerator_DayTransitionAndDailyTest(t *testing.T) {
	cfg := testConfig()
	g := New(cfg, testCurriculum(), testRegistry(t))
	events := runTicks(g, cfg.Calendar, 0, 240)

	assert.Equal(t, []core.EventType{core.EventDayTransition}, types(events[120]))
	for tick, evs := range events {
		if tick != 120 {
			assert.NotContains(t, types(evs), core.EventDayTransition, "tick %d", tick)
		}
	}

	// Tuesday 11:20 is sim minute 113 of day 1
	var test *Event
	for _, ev := range events[233] {
		if ev.Type == core.EventDailyTest {
			test = &ev
		}
	}
	require.NotNil(t, test)
	assert.Equal(t, "t1", test.TeacherID)
	assert.Equal(t, []string{"halves", "thirds"}, test.Concepts)
}

func TestGenerator_WeekendIsQuiet(t *testing.T) {
	cfg := testConfig()
	cfg.Calendar.StartDay = "Sat"
	cfg.Timetable[0].Weekdays = []string{"Sat"}
	g := New(cfg, testCurriculum(), testRegistry(t))
	events := runTicks(g, cfg.Calendar, 0, 119)
	assert.Empty(t, events)
}

func TestGenerator_HolidayAnnouncement(t *testing.T) {
	cfg := testConfig()
	cfg.Calendar.Semester.Holidays = []string{"2025-09-02"}
	g := New(cfg, testCurriculum(), testRegistry(t))
	events := runTicks(g, cfg.Calendar, 119, 121)

	require.Len(t, events[120], 2)
	assert.Equal(t, core.EventDayTransition, events[120][0].Type)
	assert.Equal(t, ActionHoliday, events[120][1].Action)
	assert.Empty(t, events[121])
}

func TestGenerator_ReloadKeepsHistory(t *testing.T) {
	cfg := testConfig()
	g := New(cfg, testCurriculum(), testRegistry(t))
	runTicks(g, cfg.Calendar, 0, 21)
	require.NotEmpty(t, g.Taught(0, "g1"))

	cfg.Timetable = nil
	g.Reload(cfg, nil)
	assert.NotEmpty(t, g.Taught(0, "g1"))
	assert.Empty(t, g.Timetable().Entries())
}
