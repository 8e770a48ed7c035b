package scenario

import (
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
	"github.com/hupe1980/classmesh/social"
	"github.com/hupe1980/classmesh/tool"
)

// DefaultGroup is the class of the default scenario.
const DefaultGroup = "class_1"

// Default returns a runnable classroom: one teacher, four students, a
// small math course and two lessons a school day.
func Default() *Scenario {
	s := Base()
	s.Ticks = 240
	s.PersonaTemplates = map[string]core.Persona{
		"eager": {
			Traits:        []string{"curious", "talkative"},
			Tone:          "enthusiastic",
			Engagement:    0.8,
			Confidence:    0.7,
			Collaboration: 0.7,
		},
		"quiet": {
			Traits:        []string{"shy", "careful"},
			Tone:          "soft",
			Engagement:    0.5,
			Confidence:    0.3,
			Collaboration: 0.4,
		},
	}
	tools := []string{tool.NameGetTime, tool.NameGetSchedule, tool.NameGetRecentMemory}
	s.Agents = []AgentSpec{
		{AgentProfile: core.AgentProfile{
			ID:       "t1",
			Name:     "Ms. Lee",
			Role:     core.RoleTeacher,
			Group:    DefaultGroup,
			Persona:  core.Persona{Traits: []string{"patient", "structured"}, Tone: "warm", Engagement: 0.8, Confidence: 0.9, Collaboration: 0.7},
			Decision: core.DecisionConfig{ToolAllowlist: tools},
		}},
		{AgentProfile: core.AgentProfile{ID: "s1", Name: "Ada", Role: core.RoleStudent, Group: DefaultGroup, Decision: core.DecisionConfig{ToolAllowlist: tools}}, Template: "eager"},
		{AgentProfile: core.AgentProfile{ID: "s2", Name: "Bo", Role: core.RoleStudent, Group: DefaultGroup}, Template: "quiet"},
		{AgentProfile: core.AgentProfile{ID: "s3", Name: "Chen", Role: core.RoleStudent, Group: DefaultGroup}, Template: "eager"},
		{AgentProfile: core.AgentProfile{ID: "s4", Name: "Dara", Role: core.RoleStudent, Group: DefaultGroup}, Template: "quiet"},
	}
	s.Timetable = []core.TimetableEntry{
		{
			Group:     DefaultGroup,
			TeacherID: "t1",
			Topic:     "math",
			CourseID:  "math",
			Weekdays:  []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			StartTime: "09:00",
			EndTime:   "09:40",
		},
		{
			Group:     DefaultGroup,
			TeacherID: "t1",
			Topic:     "math",
			CourseID:  "math",
			Weekdays:  []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
			StartTime: "14:00",
			EndTime:   "14:40",
		},
	}
	s.Curriculum = curriculum.Config{
		Courses: []curriculum.Course{{
			ID:   "math",
			Name: "Mathematics",
			Units: []curriculum.Unit{{
				ID:   "fractions",
				Name: "Fractions",
				Lessons: []curriculum.Lesson{
					{ID: "l1", Name: "Parts of a whole", Concepts: []string{"halves", "thirds"}},
					{ID: "l2", Name: "Comparing fractions", Concepts: []string{"common_denominator", "ordering"}},
					{ID: "l3", Name: "Decimals", Concepts: []string{"tenths", "percentages"}},
				},
			}},
		}},
		Concepts: []curriculum.Concept{
			{ID: "halves", Name: "Halves", Difficulty: 0.2, Keywords: []string{"two", "equal", "half"}},
			{ID: "thirds", Name: "Thirds", Difficulty: 0.3, Keywords: []string{"three", "equal", "third"}},
			{ID: "common_denominator", Name: "Common denominator", Difficulty: 0.5, Keywords: []string{"denominator", "multiple"}, Prerequisites: []string{"halves", "thirds"}},
			{ID: "ordering", Name: "Ordering fractions", Difficulty: 0.5, Keywords: []string{"greater", "smaller", "compare"}},
			{ID: "tenths", Name: "Tenths", Difficulty: 0.4, Keywords: []string{"decimal", "tenth", "point"}},
			{ID: "percentages", Name: "Percentages", Difficulty: 0.6, Keywords: []string{"percent", "hundred"}},
		},
		QuestionBank: map[string][]string{
			"halves":      {"What is half of 8?"},
			"percentages": {"What is 25 percent of 40?"},
		},
	}
	s.Social = social.Config{
		Friends:   []social.Pair{{"s1", "s3"}},
		Conflicts: []social.Pair{{"s2", "s4"}},
	}
	s.normalize()
	return s
}
