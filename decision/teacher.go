package decision

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/knowledge"
)

// Teaching modes derived from student feedback.
const (
	ModeBasic    = "basic"
	ModeNormal   = "normal"
	ModeAdvanced = "advanced"
)

// TeachingStrategy shapes lecture and summary instructions for a topic.
type TeachingStrategy struct {
	Mode     string `json:"mode"`
	Style    string `json:"style"`
	Pace     string `json:"pace"`
	Examples int    `json:"examples"`
}

// DefaultTeachingStrategy is used for topics without feedback.
func DefaultTeachingStrategy() TeachingStrategy {
	return TeachingStrategy{Mode: ModeNormal, Style: "balanced explanation", Pace: "medium", Examples: 2}
}

type feedbackStats struct {
	low, high, count int
	avg              float64
}

func (st feedbackStats) strategy() TeachingStrategy {
	s := DefaultTeachingStrategy()
	switch {
	case st.low >= st.high+1 || st.avg < 0.45:
		s.Mode, s.Style = ModeBasic, "foundational explanation"
	case st.high >= st.low+1 && st.avg > 0.75:
		s.Mode, s.Style = ModeAdvanced, "advanced explanation"
	}
	switch {
	case st.avg < 0.5:
		s.Pace, s.Examples = "slow", 3
	case st.avg > 0.8:
		s.Pace, s.Examples = "fast", 1
	}
	return s
}

// TeacherBehavior lectures, answers, disciplines, quizzes and grades. It
// adapts its teaching strategy per topic from student feedback. Feedback,
// grades, quiz keywords and row suspicion change only when the decision is
// committed.
type TeacherBehavior struct {
	mu          sync.Mutex
	feedback    map[string]*feedbackStats
	strategies  map[string]TeachingStrategy
	keywords    map[string][]string
	assessments map[string][]float64
	suspicion   map[int]float64
}

// NewTeacherBehavior creates a teacher with no feedback history.
func NewTeacherBehavior() *TeacherBehavior {
	return &TeacherBehavior{
		feedback:    make(map[string]*feedbackStats),
		strategies:  make(map[string]TeachingStrategy),
		keywords:    make(map[string][]string),
		assessments: make(map[string][]float64),
		suspicion:   make(map[int]float64),
	}
}

// Strategy returns the teaching strategy for topic.
func (b *TeacherBehavior) Strategy(topic string) TeachingStrategy {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.strategies[topic]; ok {
		return s
	}
	return DefaultTeachingStrategy()
}

// Assessment returns the mean quiz score of a concept and whether any
// answer was graded.
func (b *TeacherBehavior) Assessment(conceptID string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.assessmentLocked(conceptID)
}

func (b *TeacherBehavior) assessmentLocked(conceptID string) (float64, bool) {
	scores := b.assessments[conceptID]
	if len(scores) == 0 {
		return 0.6, false
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores)), true
}

// Suspicion returns the accumulated suspicion of a row.
func (b *TeacherBehavior) Suspicion(row int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspicion[row]
}

// OnEvent implements Behavior.
func (b *TeacherBehavior) OnEvent(t *Turn, ev core.SystemEvent) {
	switch ev.Type {
	case core.EventPhaseLecture:
		b.lecture(t, ev)
	case core.EventPhaseSummary:
		b.summary(t, ev)
	case core.EventDailyTest:
		students := t.Env().members(ev.Group, core.RoleStudent)
		if len(students) == 0 {
			return
		}
		for _, concept := range ev.Concepts {
			t.SendAll(students, core.TopicQuiz, b.quizQuestion(t, concept, "yesterday's lesson"))
		}
	}
}

func (b *TeacherBehavior) lecture(t *Turn, ev core.SystemEvent) {
	cfg := t.Env().Config.Teacher
	students := t.Env().members(ev.Group, core.RoleStudent)
	s := b.Strategy(ev.Topic)
	note := b.reviewNote(ev.Concepts, cfg.WeakConceptThreshold)

	var extra strings.Builder
	if ev.LessonPlan != "" {
		fmt.Fprintf(&extra, " Key points: %s.", ev.LessonPlan)
	}
	if note != "" {
		fmt.Fprintf(&extra, " Revisit: %s.", note)
	}
	instruction := fmt.Sprintf("Teach with a %s at a %s pace, give %d examples and highlight key concepts and common mistakes.%s",
		s.Style, s.Pace, s.Examples, extra.String())
	text := t.Compose(instruction,
		fmt.Sprintf("lecture:%s;plan:%s;review:%s", ev.Topic, ev.LessonPlan, note),
		fallbackText(ev, "plan", "concepts"))
	t.SendAll(students, core.TopicLecture, PrefixTopic(ev.Topic, text))

	if t.Roll(cfg.ColdCallProb) {
		if target := t.Pick(students); target != "" {
			t.Send(target, core.TopicColdCall, t.Profile().Name+" asks: please recap the key points.")
		}
	}
}

func (b *TeacherBehavior) summary(t *Turn, ev core.SystemEvent) {
	cfg := t.Env().Config.Teacher
	students := t.Env().members(ev.Group, core.RoleStudent)
	s := b.Strategy(ev.Topic)
	text := t.Compose(
		fmt.Sprintf("Give a short summary in a %s at a %s pace with %d key examples or applications.", s.Style, s.Pace, s.Examples),
		fmt.Sprintf("summary:%s;plan:%s", ev.Topic, ev.LessonPlan),
		fallbackText(ev, "recap", "concepts"))
	t.SendAll(students, core.TopicSummary, PrefixTopic(ev.Topic, text))

	for _, concept := range b.weakest(ev.Concepts, cfg.QuizConcepts) {
		t.SendAll(students, core.TopicQuiz, b.quizQuestion(t, concept, ev.LessonPlan))
	}
}

// OnMessage implements Behavior.
func (b *TeacherBehavior) OnMessage(t *Turn, msg core.Message) {
	name := t.Profile().Name
	switch msg.Topic {
	case core.TopicQuestion:
		t.Send(msg.SenderID, core.TopicAnswer, t.Compose(
			"Briefly answer the student's question.",
			"question:"+msg.Content,
			name+" answers: start from the basic concept.",
		))
	case core.TopicStudentComment:
		t.Send(msg.SenderID, core.TopicAnswer, t.Compose(
			"Briefly respond to the student's idea.",
			"comment:"+msg.Content,
			name+" thinks that is a good point.",
		))
	case core.TopicFeedback:
		content := msg.Content
		t.Defer(func() { b.recordFeedback(content) })
	case core.TopicOverheard:
		b.overheard(t, msg)
	case core.TopicNoise:
		b.noise(t, msg)
	case core.TopicQuizAnswer:
		b.grade(t, msg)
	}
}

func (b *TeacherBehavior) recordFeedback(content string) {
	topic, ok := Field(content, "topic")
	level, okLevel := Field(content, "level")
	if !ok || !okLevel || topic == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.feedback[topic]
	if !ok {
		st = &feedbackStats{avg: 0.6}
		b.feedback[topic] = st
	}
	switch level {
	case "low":
		st.low++
	case "high":
		st.high++
	}
	if score, ok := FloatField(content, "score"); ok {
		st.avg = (st.avg*float64(st.count) + score) / float64(st.count+1)
		st.count++
	}
	b.strategies[topic] = st.strategy()
}

func (b *TeacherBehavior) overheard(t *Turn, msg core.Message) {
	cfg := t.Env().Config.Teacher
	sender := msg.SenderID
	if sender == core.UnknownSender || sender == "" || sender == core.SystemSender {
		sender, _ = Field(msg.Content, "from")
	}
	if sender == core.UnknownSender {
		sender = ""
	}
	if sender != "" && t.Roll(cfg.OverheardSenderProb) {
		t.Send(sender, core.TopicDiscipline, "Please keep the discussion quiet during class.")
		return
	}
	if t.Roll(cfg.OverheardBroadcastProb) {
		t.SendAll(t.Env().members(t.Profile().Group, core.RoleStudent), core.TopicDiscipline, "Let's stay focused and lower the noise.")
	}
}

func (b *TeacherBehavior) noise(t *Turn, msg core.Message) {
	cfg := t.Env().Config.Teacher
	if msg.SenderID == core.UnknownSender || !t.Env().known(msg.SenderID) {
		row, hasRow := IntField(msg.Content, "suspect_row")
		if hasRow {
			rate, ok := FloatField(msg.Content, "suspicion")
			if !ok {
				rate = 0.2
			}
			t.Defer(func() {
				b.mu.Lock()
				b.suspicion[row] = min(1, b.suspicion[row]+max(0, rate))
				b.mu.Unlock()
			})
			if t.Env().Seating != nil {
				if target := t.Pick(t.Env().Seating.StudentsInRow(row)); target != "" && t.Roll(cfg.RowColdCallProb) {
					t.Send(target, core.TopicColdCall, "Please stay focused and answer the question.")
					return
				}
			}
		}
		if t.Roll(cfg.GeneralDisciplineProb) {
			text := t.Compose(
				"Give a brief general reminder about classroom discipline.",
				"noise:"+msg.Content,
				t.Profile().Name+" reminds the class to stay focused.")
			t.SendAll(t.Env().members(t.Profile().Group, core.RoleStudent), core.TopicDiscipline, text)
		}
		return
	}
	if seating := t.Env().Seating; seating != nil && !seating.Visible(msg.SenderID) && t.Roll(cfg.HiddenNoiseIgnoreProb) {
		return
	}
	t.Send(msg.SenderID, core.TopicDiscipline, t.Compose(
		"Briefly ask the student to stop the disruption.",
		"noise:"+msg.Content,
		t.Profile().Name+" asks the student to stop and pay attention.",
	))
}

func (b *TeacherBehavior) grade(t *Turn, msg core.Message) {
	topic := topicOr(msg.Content, "")
	if topic == "" {
		return
	}
	b.mu.Lock()
	keywords := slices.Clone(b.keywords[topic])
	b.mu.Unlock()
	if len(keywords) == 0 {
		keywords = t.Env().keywords(topic)
	}
	score, feedback := knowledge.ScoreAnswer(msg.Content, keywords)
	graded := t.Compose(
		"You are the teacher. Grade the answer against the keywords. Reply exactly as score=<0..1>;feedback=<short comment>.",
		fmt.Sprintf("topic:%s;keywords:%s;answer:%s", topic, strings.Join(keywords, ","), msg.Content),
		"")
	if s, ok := FloatField(graded, "score"); ok {
		score = knowledge.Clamp(s)
		if f, ok := Field(graded, "feedback"); ok && f != "" {
			feedback = f
		}
	}

	t.Defer(func() {
		b.mu.Lock()
		b.assessments[topic] = append(b.assessments[topic], score)
		b.mu.Unlock()
	})

	payload := "topic=" + topic
	if course := t.Env().courseFor(topic); course != "" {
		payload += ";course=" + course
	}
	payload += fmt.Sprintf(";score=%.2f;feedback=%s", score, strings.ReplaceAll(feedback, ";", ","))
	t.Send(msg.SenderID, core.TopicQuizScore, payload)
}

func (b *TeacherBehavior) quizQuestion(t *Turn, conceptID, context string) string {
	fallback := fmt.Sprintf("Briefly explain the core idea of %s.", t.Env().conceptName(conceptID))
	if cur := t.Env().Curriculum; cur != nil {
		fallback = cur.QuestionFor(conceptID, t.Input().Rand)
	}
	question := t.Compose(
		"Write one short quiz question about the concept. Do not include the answer.",
		fmt.Sprintf("concept:%s;name:%s;course:%s;context:%s", conceptID, t.Env().conceptName(conceptID), t.Env().courseFor(conceptID), context),
		fallback)
	keywords := t.Env().keywords(conceptID)
	t.Defer(func() {
		b.mu.Lock()
		b.keywords[conceptID] = keywords
		b.mu.Unlock()
	})
	return PrefixTopic(conceptID, question)
}

// weakest returns up to limit concepts ordered by mean assessment.
func (b *TeacherBehavior) weakest(concepts []string, limit int) []string {
	if len(concepts) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sorted := slices.Clone(concepts)
	slices.SortStableFunc(sorted, func(x, y string) int {
		ax, _ := b.assessmentLocked(x)
		ay, _ := b.assessmentLocked(y)
		switch {
		case ax < ay:
			return -1
		case ax > ay:
			return 1
		default:
			return 0
		}
	})
	return sorted[:max(1, min(limit, len(sorted)))]
}

func (b *TeacherBehavior) reviewNote(concepts []string, threshold float64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var weak []string
	for _, c := range concepts {
		if avg, ok := b.assessmentLocked(c); ok && avg < threshold {
			weak = append(weak, c)
		}
	}
	if len(weak) == 0 {
		return ""
	}
	return "weak concepts " + strings.Join(weak[:min(2, len(weak))], ", ")
}

func fallbackText(ev core.SystemEvent, planLabel, conceptLabel string) string {
	concepts := "none yet"
	if len(ev.Concepts) > 0 {
		concepts = strings.Join(ev.Concepts, ", ")
	}
	if ev.LessonPlan != "" {
		return fmt.Sprintf("[%s] %s: %s. %s: %s", ev.Topic, planLabel, ev.LessonPlan, conceptLabel, concepts)
	}
	return fmt.Sprintf("[%s] %s: %s", ev.Topic, conceptLabel, concepts)
}
