package schedule

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
)

// RecentConceptLimit bounds how many concepts a review covers.
const RecentConceptLimit = 3

var actionLabels = map[string]string{
	ActionWake:             "wake up",
	ActionBreakfastStart:   "breakfast in the cafeteria",
	ActionBreakfastEnd:     "breakfast ends",
	ActionMorningClasses:   "morning classes begin",
	ActionTestStart:        "morning test begins",
	ActionTestEnd:          "morning test ends",
	ActionLunchStart:       "lunch and rest",
	ActionLunchEnd:         "lunch break ends",
	ActionAfternoonClasses: "afternoon classes begin",
	ActionSchoolEnd:        "school is over",
}

// Label returns a human readable description of a routine action.
func Label(action string) string {
	if l, ok := actionLabels[action]; ok {
		return l
	}
	return action
}

// Directory resolves the groups and members events are addressed to.
type Directory interface {
	Groups() []string
	GroupMembers(group string, role core.Role) []string
}

// Config bundles everything the generator derives its timeline from.
type Config struct {
	Calendar  clock.CalendarConfig
	Routine   Routine
	Timetable []core.TimetableEntry
}

// Validate checks the routine and the timetable.
func (c Config) Validate() error {
	if err := c.Routine.Validate(); err != nil {
		return err
	}
	return ValidateEntries(c.Calendar, c.Timetable)
}

// Event is a scheduled stimulus. Class sessions also carry the timetable
// entry and the exclusive tick at which the session ends (0 when open ended).
type Event struct {
	core.SystemEvent
	Entry   core.TimetableEntry
	EndTick int64
}

// Generator turns simulated time into scheduled events. It remembers which
// concepts each group was taught per day so reviews and daily tests can
// refer back to them.
type Generator struct {
	mu         sync.Mutex
	cfg        Config
	routine    *DailyRoutine
	timetable  *Timetable
	curriculum *curriculum.Curriculum
	dir        Directory
	lastDay    int
	started    bool
	taught     map[int]map[string][]string
}

// New creates a generator. The curriculum may be nil.
func New(cfg Config, cur *curriculum.Curriculum, dir Directory) *Generator {
	g := &Generator{curriculum: cur, dir: dir, taught: make(map[int]map[string][]string)}
	g.apply(cfg)
	return g
}

func (g *Generator) apply(cfg Config) {
	g.cfg = cfg
	g.routine = NewDailyRoutine(cfg.Calendar, cfg.Routine)
	g.timetable = NewTimetable(cfg.Calendar, cfg.Timetable)
}

// Reload swaps calendar, routine and timetable. The taught-concept history
// and the day cursor survive.
func (g *Generator) Reload(cfg Config, cur *curriculum.Curriculum) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.apply(cfg)
	if cur != nil {
		g.curriculum = cur
	}
}

// Timetable returns the current timetable index.
func (g *Generator) Timetable() *Timetable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timetable
}

// EventsFor returns the events whose minute falls inside the window of
// st.Tick, i.e. [SimMinute, SimMinute+MinutesPerTick).
func (g *Generator) EventsFor(st core.SimTime) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	var events []Event
	emit := func(ev core.SystemEvent) {
		ev.Tick = st.Tick
		events = append(events, Event{SystemEvent: ev})
	}

	newDay := !g.started || st.DayIndex != g.lastDay
	if g.started && newDay {
		emit(core.SystemEvent{Type: core.EventDayTransition, Text: fmt.Sprintf("%s %s", st.Weekday, st.Date)})
	}
	if newDay && st.Holiday {
		emit(core.SystemEvent{Type: core.EventAnnouncement, Action: ActionHoliday, Text: fmt.Sprintf("%s %s · holiday", st.Weekday, st.Date)})
	}
	g.started = true
	g.lastDay = st.DayIndex

	span := max(g.cfg.Calendar.MinutesPerTick, 1)
	for _, action := range g.routine.ActionsIn(st.SimMinute, span, st.SchoolDay) {
		switch action {
		case ActionReviewBreak, ActionReviewHome:
			intensity := BreakReviewIntensity
			if action == ActionReviewHome {
				intensity = HomeReviewIntensity
			}
			for _, group := range g.studentGroups() {
				concepts := g.recentConcepts(st.DayIndex, group, RecentConceptLimit)
				if len(concepts) == 0 {
					continue
				}
				emit(core.SystemEvent{Type: core.EventReview, Group: group, Action: action, Intensity: intensity, Concepts: concepts})
			}
		default:
			emit(core.SystemEvent{
				Type:   core.EventAnnouncement,
				Action: action,
				Text:   fmt.Sprintf("%s %s · %s", st.Weekday, st.ClockTime, Label(action)),
			})
		}
	}

	if st.SchoolDay {
		entries, durations := g.timetable.StartingIn(st.Weekday, st.SimMinute, span)
		for i, entry := range entries {
			ev := core.SystemEvent{
				Type:      core.EventClassSession,
				Tick:      st.Tick,
				Group:     entry.Group,
				TeacherID: entry.TeacherID,
				Topic:     entry.Topic,
				CourseID:  entry.CourseID,
			}
			if plan, ok := g.lessonPlan(entry.CourseID); ok {
				ev.LessonID = plan.LessonID
				ev.LessonPlan = plan.Summary()
				ev.Concepts = plan.ConceptIDs()
				g.recordTaught(st.DayIndex, entry.Group, ev.Concepts)
			}
			var endTick int64
			if durations[i] > 0 {
				endTick = st.Tick + int64(max(durations[i]/span, 1))
			}
			events = append(events, Event{SystemEvent: ev, Entry: entry, EndTick: endTick})
		}
	}

	if g.routine.IsTestStart(st.SimMinute, span, st.SchoolDay) {
		for _, group := range g.studentGroups() {
			concepts := g.taughtOn(st.DayIndex-1, group)
			teachers := g.dir.GroupMembers(group, core.RoleTeacher)
			if len(concepts) == 0 || len(teachers) == 0 {
				continue
			}
			emit(core.SystemEvent{Type: core.EventDailyTest, Group: group, TeacherID: teachers[0], Concepts: concepts})
		}
	}
	return events
}

func (g *Generator) lessonPlan(courseID string) (curriculum.LessonPlan, bool) {
	if g.curriculum == nil || courseID == "" {
		return curriculum.LessonPlan{}, false
	}
	return g.curriculum.NextLesson(courseID)
}

func (g *Generator) studentGroups() []string {
	if g.dir == nil {
		return nil
	}
	var out []string
	for _, group := range g.dir.Groups() {
		if len(g.dir.GroupMembers(group, core.RoleStudent)) > 0 {
			out = append(out, group)
		}
	}
	return out
}

func (g *Generator) recordTaught(day int, group string, concepts []string) {
	byGroup, ok := g.taught[day]
	if !ok {
		byGroup = make(map[string][]string)
		g.taught[day] = byGroup
		// only yesterday and today are ever consulted
		for d := range g.taught {
			if d < day-1 {
				delete(g.taught, d)
			}
		}
	}
	for _, c := range concepts {
		if !slices.Contains(byGroup[group], c) {
			byGroup[group] = append(byGroup[group], c)
		}
	}
}

func (g *Generator) taughtOn(day int, group string) []string {
	return slices.Clone(g.taught[day][group])
}

// recentConcepts returns today's concepts, topped up with yesterday's when
// there are fewer than limit, keeping the last limit entries.
func (g *Generator) recentConcepts(day int, group string, limit int) []string {
	concepts := g.taughtOn(day, group)
	if len(concepts) < limit {
		concepts = append(g.taughtOn(day-1, group), concepts...)
	}
	if len(concepts) > limit {
		concepts = concepts[len(concepts)-limit:]
	}
	return concepts
}

// Taught returns the concepts taught to group on day.
func (g *Generator) Taught(day int, group string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.taughtOn(day, group)
}
