// Package curriculum models courses, units, lessons and concepts and tracks
// how far each course has been taught.
package curriculum

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// Concept is one teachable idea.
type Concept struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Difficulty    float64  `yaml:"difficulty" json:"difficulty"`
	Prerequisites []string `yaml:"prerequisites" json:"prerequisites,omitempty"`
	Examples      []string `yaml:"examples" json:"examples,omitempty"`
	Exercises     []string `yaml:"exercises" json:"exercises,omitempty"`
	Keywords      []string `yaml:"keywords" json:"keywords,omitempty"`
}

// Lesson groups the concepts taught in one class session.
type Lesson struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Concepts []string `yaml:"concepts" json:"concepts"`
}

// Unit is an ordered list of lessons.
type Unit struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Lessons []Lesson `yaml:"lessons" json:"lessons"`
}

// Course is an ordered list of units.
type Course struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Units []Unit `yaml:"units" json:"units"`
}

// Config is the curriculum section of a scenario.
type Config struct {
	Courses      []Course            `yaml:"courses" json:"courses"`
	Concepts     []Concept           `yaml:"concepts" json:"concepts"`
	QuestionBank map[string][]string `yaml:"question_bank" json:"question_bank,omitempty"`
}

// Validate checks ids and concept references.
func (c Config) Validate() error {
	concepts := make(map[string]bool, len(c.Concepts))
	for i, cp := range c.Concepts {
		if cp.ID == "" {
			return core.NewConfigError(fmt.Sprintf("curriculum.concepts[%d].id", i), "is required")
		}
		if cp.Difficulty < 0 || cp.Difficulty > 1 {
			return core.NewConfigError(fmt.Sprintf("curriculum.concepts[%d].difficulty", i), "must be within [0,1]")
		}
		concepts[cp.ID] = true
	}
	seen := map[string]bool{}
	for i, course := range c.Courses {
		field := fmt.Sprintf("curriculum.courses[%d]", i)
		if course.ID == "" {
			return core.NewConfigError(field+".id", "is required")
		}
		if seen[course.ID] {
			return core.NewConfigError(field+".id", "duplicate course %q", course.ID)
		}
		seen[course.ID] = true
		for _, u := range course.Units {
			for _, l := range u.Lessons {
				for _, id := range l.Concepts {
					if len(concepts) > 0 && !concepts[id] {
						return core.NewConfigError(field, "lesson %q references unknown concept %q", l.ID, id)
					}
				}
			}
		}
	}
	return nil
}

// PlanConcept is a concept with teaching material.
type PlanConcept struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Examples  []string `json:"examples,omitempty"`
	Exercises []string `json:"exercises,omitempty"`
}

// LessonPlan is what a teacher brings to one class session.
type LessonPlan struct {
	CourseID   string        `json:"course_id"`
	CourseName string        `json:"course_name"`
	UnitID     string        `json:"unit_id"`
	LessonID   string        `json:"lesson_id"`
	LessonName string        `json:"lesson_name"`
	Concepts   []PlanConcept `json:"concepts"`
}

// ConceptIDs lists the plan's concept ids.
func (p LessonPlan) ConceptIDs() []string {
	out := make([]string, len(p.Concepts))
	for i, c := range p.Concepts {
		out[i] = c.ID
	}
	return out
}

// Summary renders a one-line description such as
// "Fractions · concepts: halves(example: 1/2 of 8)".
func (p LessonPlan) Summary() string {
	lines := make([]string, 0, len(p.Concepts))
	for _, c := range p.Concepts {
		var detail []string
		if len(c.Examples) > 0 {
			detail = append(detail, "example: "+strings.Join(c.Examples[:min(2, len(c.Examples))], "; "))
		}
		if len(c.Exercises) > 0 {
			detail = append(detail, "exercise: "+c.Exercises[0])
		}
		if len(detail) > 0 {
			lines = append(lines, fmt.Sprintf("%s(%s)", c.ID, strings.Join(detail, "; ")))
		} else {
			lines = append(lines, c.ID)
		}
	}
	text := "none"
	if len(lines) > 0 {
		text = strings.Join(lines, ", ")
	}
	return fmt.Sprintf("%s · concepts: %s", p.LessonName, text)
}

// Progress reports how many lessons of a course have been taught.
type Progress struct {
	CourseID  string `json:"course_id"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

type orderedLesson struct {
	unitID string
	lesson Lesson
}

// Curriculum serves lesson plans in course order.
type Curriculum struct {
	mu            sync.RWMutex
	cfg           Config
	courses       map[string]Course
	concepts      map[string]Concept
	order         map[string][]orderedLesson
	conceptCourse map[string]string
	progress      map[string]int
}

// New indexes cfg.
func New(cfg Config) *Curriculum {
	c := &Curriculum{
		cfg:           cfg,
		courses:       make(map[string]Course),
		concepts:      make(map[string]Concept),
		order:         make(map[string][]orderedLesson),
		conceptCourse: make(map[string]string),
		progress:      make(map[string]int),
	}
	for _, cp := range cfg.Concepts {
		c.concepts[cp.ID] = cp
	}
	for _, course := range cfg.Courses {
		c.courses[course.ID] = course
		var ordered []orderedLesson
		for _, u := range course.Units {
			for _, l := range u.Lessons {
				ordered = append(ordered, orderedLesson{unitID: u.ID, lesson: l})
				for _, id := range l.Concepts {
					if _, ok := c.conceptCourse[id]; !ok {
						c.conceptCourse[id] = course.ID
					}
				}
			}
		}
		c.order[course.ID] = ordered
	}
	return c
}

// Reload swaps the course definitions while keeping progress of courses
// that still exist.
func (c *Curriculum) Reload(cfg Config) *Curriculum {
	c.mu.RLock()
	progress := make(map[string]int, len(c.progress))
	for k, v := range c.progress {
		progress[k] = v
	}
	c.mu.RUnlock()
	next := New(cfg)
	for id, v := range progress {
		if n := len(next.order[id]); n > 0 {
			next.progress[id] = v % (n + 1)
		}
	}
	return next
}

// Courses returns the configured courses.
func (c *Curriculum) Courses() []Course {
	return append([]Course(nil), c.cfg.Courses...)
}

// CourseName returns the course name or the id when unknown.
func (c *Curriculum) CourseName(courseID string) string {
	if course, ok := c.courses[courseID]; ok && course.Name != "" {
		return course.Name
	}
	return courseID
}

// Concept looks up a concept.
func (c *Curriculum) Concept(id string) (Concept, bool) {
	cp, ok := c.concepts[id]
	return cp, ok
}

// CourseForConcept returns the first course teaching concept id.
func (c *Curriculum) CourseForConcept(id string) (string, bool) {
	course, ok := c.conceptCourse[id]
	return course, ok
}

// Keywords returns the grading keywords of a concept: its configured
// keywords, else its name.
func (c *Curriculum) Keywords(id string) []string {
	cp, ok := c.concepts[id]
	if !ok {
		return []string{id}
	}
	if len(cp.Keywords) > 0 {
		return cp.Keywords
	}
	if cp.Name != "" {
		return strings.Fields(cp.Name)
	}
	return []string{id}
}

// NextLesson returns the next lesson of a course and advances progress,
// wrapping to the first lesson after the last.
func (c *Curriculum) NextLesson(courseID string) (LessonPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ordered := c.order[courseID]
	if len(ordered) == 0 {
		return LessonPlan{}, false
	}
	idx := c.progress[courseID] % len(ordered)
	c.progress[courseID] = idx + 1
	return c.buildPlan(courseID, ordered[idx]), true
}

// CurrentConcepts returns the concepts of the most recently served lesson.
func (c *Curriculum) CurrentConcepts(courseID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ordered := c.order[courseID]
	if len(ordered) == 0 {
		return nil
	}
	idx := max(0, c.progress[courseID]-1) % len(ordered)
	return append([]string(nil), ordered[idx].lesson.Concepts...)
}

// QuestionFor picks a question template for a concept.
func (c *Curriculum) QuestionFor(conceptID string, rng *rand.Rand) string {
	templates := c.cfg.QuestionBank[conceptID]
	switch {
	case len(templates) == 0:
		name := conceptID
		if cp, ok := c.concepts[conceptID]; ok && cp.Name != "" {
			name = cp.Name
		}
		return fmt.Sprintf("Explain %s in your own words.", name)
	case rng == nil:
		return templates[0]
	default:
		return templates[rng.Intn(len(templates))]
	}
}

// Progress reports every course in configuration order.
func (c *Curriculum) Progress() []Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Progress, 0, len(c.cfg.Courses))
	for _, course := range c.cfg.Courses {
		total := len(c.order[course.ID])
		out = append(out, Progress{
			CourseID:  course.ID,
			Name:      course.Name,
			Completed: min(c.progress[course.ID], total),
			Total:     total,
		})
	}
	return out
}

func (c *Curriculum) buildPlan(courseID string, ol orderedLesson) LessonPlan {
	plan := LessonPlan{
		CourseID:   courseID,
		CourseName: c.CourseName(courseID),
		UnitID:     ol.unitID,
		LessonID:   ol.lesson.ID,
		LessonName: ol.lesson.Name,
	}
	for _, id := range ol.lesson.Concepts {
		pc := PlanConcept{ID: id, Name: id}
		if cp, ok := c.concepts[id]; ok {
			pc.Name = cp.Name
			pc.Examples = append([]string(nil), cp.Examples...)
			pc.Exercises = append([]string(nil), cp.Exercises...)
		}
		plan.Concepts = append(plan.Concepts, pc)
	}
	return plan
}
