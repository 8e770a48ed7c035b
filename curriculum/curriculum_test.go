package curriculum

import (
	"math/rand"
	"testing"

	"github.com/hupe1980/classmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mathConfig() Config {
	return Config{
		Courses: []Course{{
			ID:   "math",
			Name: "Mathematics",
			Units: []Unit{{ID: "u1", Name: "Numbers", Lessons: []Lesson{
				{ID: "l1", Name: "Fractions", Concepts: []string{"halves", "quarters"}},
				{ID: "l2", Name: "Decimals", Concepts: []string{"tenths"}},
			}}},
		}},
		Concepts: []Concept{
			{ID: "halves", Name: "halves", Difficulty: 0.3, Examples: []string{"1/2 of 8", "1/2 of 10", "1/2 of 12"}, Exercises: []string{"halve 6"}},
			{ID: "quarters", Name: "quarter parts", Difficulty: 0.4},
			{ID: "tenths", Name: "tenths", Difficulty: 0.5, Keywords: []string{"0.1", "tenth"}},
		},
		QuestionBank: map[string][]string{"tenths": {"What is 0.1 + 0.2?"}},
	}
}

func TestNextLesson_WalksInOrderAndWraps(t *testing.T) {
	c := New(mathConfig())
	plan, ok := c.NextLesson("math")
	require.True(t, ok)
	assert.Equal(t, "l1", plan.LessonID)
	assert.Equal(t, []string{"halves", "quarters"}, plan.ConceptIDs())
	assert.Equal(t, []string{"halves", "quarters"}, c.CurrentConcepts("math"))

	plan, _ = c.NextLesson("math")
	assert.Equal(t, "l2", plan.LessonID)
	assert.Equal(t, []Progress{{CourseID: "math", Name: "Mathematics", Completed: 2, Total: 2}}, c.Progress())

	plan, _ = c.NextLesson("math")
	assert.Equal(t, "l1", plan.LessonID)

	_, ok = c.NextLesson("art")
	assert.False(t, ok)
	assert.Nil(t, c.CurrentConcepts("art"))
}

func TestLessonPlan_Summary(t *testing.T) {
	c := New(mathConfig())
	plan, _ := c.NextLesson("math")
	assert.Equal(t, "Fractions · concepts: halves(example: 1/2 of 8; 1/2 of 10; exercise: halve 6), quarters", plan.Summary())
	assert.Equal(t, "x · concepts: none", LessonPlan{LessonName: "x"}.Summary())
}

func TestQuestionsAndKeywords(t *testing.T) {
	c := New(mathConfig())
	assert.Equal(t, "What is 0.1 + 0.2?", c.QuestionFor("tenths", rand.New(rand.NewSource(1))))
	assert.Equal(t, "Explain quarter parts in your own words.", c.QuestionFor("quarters", nil))
	assert.Equal(t, []string{"0.1", "tenth"}, c.Keywords("tenths"))
	assert.Equal(t, []string{"quarter", "parts"}, c.Keywords("quarters"))
	assert.Equal(t, []string{"zzz"}, c.Keywords("zzz"))
	course, ok := c.CourseForConcept("tenths")
	require.True(t, ok)
	assert.Equal(t, "math", course)
}

func TestReload_KeepsProgress(t *testing.T) {
	c := New(mathConfig())
	c.NextLesson("math")
	next := c.Reload(mathConfig())
	plan, _ := next.NextLesson("math")
	assert.Equal(t, "l2", plan.LessonID)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, mathConfig().Validate())

	cfg := mathConfig()
	cfg.Courses[0].Units[0].Lessons[1].Concepts = []string{"logarithms"}
	var cerr *core.ConfigError
	require.ErrorAs(t, cfg.Validate(), &cerr)

	cfg = mathConfig()
	cfg.Courses = append(cfg.Courses, Course{ID: "math"})
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Equal(t, "curriculum.courses[1].id", cerr.Field)
}
