package decision

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/schedule"
)

// Mood is the transient state of a student. Values lie in [0,1].
type Mood struct {
	Energy     float64 `json:"energy"`
	Attention  float64 `json:"attention"`
	Motivation float64 `json:"motivation"`
	Stress     float64 `json:"stress"`
	SleepDebt  float64 `json:"sleep_debt"`
}

// DefaultMood is the mood of a student at the start of a run.
func DefaultMood() Mood {
	return Mood{Energy: 0.6, Attention: 0.6, Motivation: 0.6, Stress: 0.2}
}

var noises = []string{"is daydreaming", "interrupts", "whispers to a neighbour", "flips through another book"}

// StudentBehavior acknowledges lectures, asks questions, answers quizzes
// and cold calls, talks to peers and reviews material. Mood changes apply
// when the decision is committed.
type StudentBehavior struct {
	mu   sync.Mutex
	mood Mood
}

// NewStudentBehavior creates a student with the default mood.
func NewStudentBehavior() *StudentBehavior {
	return &StudentBehavior{mood: DefaultMood()}
}

// Mood returns the current mood.
func (s *StudentBehavior) Mood() Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

func (s *StudentBehavior) adjust(fn func(m *Mood)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.mood)
}

// OnEvent implements Behavior.
func (s *StudentBehavior) OnEvent(t *Turn, ev core.SystemEvent) {
	cfg := t.Env().Config.Student
	switch ev.Type {
	case core.EventAnnouncement:
		action := ev.Action
		t.Defer(func() { s.applyRoutine(action) })
	case core.EventPhaseQuestions:
		if ev.TeacherID == "" || !t.Roll(s.scaleProb(t, cfg.QuestionProb, false)) {
			return
		}
		hint := understandingHint(t.Score(ev.Topic))
		t.Send(ev.TeacherID, core.TopicQuestion, t.Compose(
			"Ask one short question about the lesson topic; "+hint+".",
			"question_round:"+ev.Topic,
			fmt.Sprintf("%s has a question about %s.", t.Profile().Name, ev.Topic),
		))
	case core.EventGroupDiscussion:
		s.discuss(t, ev)
	case core.EventReview:
		persona := t.Profile().Persona
		for _, concept := range ev.Concepts {
			variance := t.Float()*0.2 - 0.1
			delta := knowledge.ReviewDelta(persona, t.Score(concept), ev.Intensity, variance)
			t.Learn(concept, delta, knowledge.SourceReview, "")
		}
	}
}

func (s *StudentBehavior) discuss(t *Turn, ev core.SystemEvent) {
	cfg := t.Env().Config.Student
	self := t.Profile().ID
	hint := understandingHint(t.Score(ev.Topic))
	if t.Roll(s.scaleProb(t, cfg.PeerDiscussProb, true)) {
		var peers []string
		for _, id := range t.Env().members(ev.Group, core.RoleStudent) {
			if id != self {
				peers = append(peers, id)
			}
		}
		if peer := t.Env().Social.PickPeer(self, peers, t.Input().Rand); peer != "" {
			t.Send(peer, core.TopicPeerComment, t.Compose(
				"Share one short thought with a classmate; "+hint+".",
				"group:"+ev.Topic,
				fmt.Sprintf("%s shares a view on %s.", t.Profile().Name, ev.Topic),
			))
		}
	}
	if ev.TeacherID != "" && t.Roll(s.scaleProb(t, cfg.DiscussProb, false)) {
		t.Send(ev.TeacherID, core.TopicStudentComment, t.Compose(
			"Share one short idea with the teacher; "+hint+".",
			"discussion:"+ev.Topic,
			fmt.Sprintf("%s tells the teacher what they think about %s.", t.Profile().Name, ev.Topic),
		))
	}
}

// OnMessage implements Behavior.
func (s *StudentBehavior) OnMessage(t *Turn, msg core.Message) {
	cfg := t.Env().Config.Student
	name := t.Profile().Name
	switch msg.Topic {
	case core.TopicLecture:
		topic := topicOr(msg.Content, "the lesson")
		t.Send(msg.SenderID, core.TopicAck, t.Compose(
			"Briefly acknowledge the lecture.",
			"lecture:"+msg.Content,
			fmt.Sprintf("%s got the lecture on %s.", name, topic),
		))
		if t.Roll(s.scaleProb(t, cfg.QuestionProb, false)) {
			score := t.Score(topic)
			t.Send(msg.SenderID, core.TopicQuestion, t.Compose(
				"Ask one short question about the lecture; "+understandingHint(score)+".",
				fmt.Sprintf("lecture:%s;understanding=%.2f", msg.Content, score),
				fmt.Sprintf("%s wants to ask about %s.", name, topic),
			))
		}
		if t.Roll(s.noiseProb(cfg.NoiseProb)) {
			t.Send(msg.SenderID, core.TopicNoise, name+" "+noises[int(t.Float()*float64(len(noises)))])
		}
	case core.TopicQuiz:
		topic := topicOr(msg.Content, "the lesson")
		if !t.Roll(s.scaleProb(t, cfg.QuizAnswerProb, false)) {
			return
		}
		score := t.Score(topic)
		answer := t.Compose(
			"You are taking a quiz. Answer according to your understanding; "+understandingHint(score)+". End with topic=<topic>.",
			"quiz:"+msg.Content,
			s.fallbackAnswer(t, topic, score),
		)
		if _, ok := Field(answer, "topic"); !ok {
			answer += " topic=" + topic
		}
		t.Send(msg.SenderID, core.TopicQuizAnswer, answer)
	case core.TopicQuizScore:
		topic, ok := Field(msg.Content, "topic")
		score, okScore := FloatField(msg.Content, "score")
		if !ok || !okScore {
			return
		}
		updated := t.Learn(topic, knowledge.QuizDelta(t.Score(topic), score), knowledge.SourceQuiz, msg.ID)
		switch {
		case updated < 0.5:
			t.Send(msg.SenderID, core.TopicFeedback, fmt.Sprintf("topic=%s;level=low;score=%.2f", topic, updated))
		case updated > 0.85:
			t.Send(msg.SenderID, core.TopicFeedback, fmt.Sprintf("topic=%s;level=high;score=%.2f", topic, updated))
		}
	case core.TopicAnswer:
		t.Send(msg.SenderID, core.TopicThanks, t.Compose(
			"Briefly thank the teacher for the answer.",
			"answer:"+msg.Content,
			name+" thanks the teacher for the explanation.",
		))
	case core.TopicColdCall:
		t.Send(msg.SenderID, core.TopicAnswer, t.Compose(
			"Briefly answer the teacher's cold call.",
			"cold_call:"+msg.Content,
			name+" recaps the key points.",
		))
	case core.TopicPeerComment:
		if !t.Roll(s.scaleProb(t, cfg.PeerReplyProb, true)) {
			return
		}
		t.Send(msg.SenderID, core.TopicPeerComment, t.Compose(
			"Reply briefly to your classmate; "+understandingHint(t.Latest())+".",
			"peer:"+msg.Content,
			name+" agrees and adds a thought.",
		))
	case core.TopicSummary:
		topic := topicOr(msg.Content, "")
		if topic == "" {
			return
		}
		score := t.Score(topic)
		level := "mid"
		switch {
		case score < 0.5:
			level = "low"
		case score > 0.85:
			level = "high"
		}
		t.Send(msg.SenderID, core.TopicFeedback, fmt.Sprintf("topic=%s;level=%s;score=%.2f", topic, level, score))
	case core.TopicDiscipline:
		t.Defer(func() {
			s.adjust(func(m *Mood) {
				m.Attention = math.Min(1, m.Attention+0.1)
				m.Stress = math.Min(1, m.Stress+0.05)
			})
		})
	}
}

// fallbackAnswer mentions each grading keyword with probability equal to
// the current understanding, so better understanding scores higher.
func (s *StudentBehavior) fallbackAnswer(t *Turn, topic string, score float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s answers the question about %s", t.Profile().Name, t.Env().conceptName(topic))
	for _, kw := range t.Env().keywords(topic) {
		if t.Roll(score) {
			b.WriteString(", " + kw)
		}
	}
	b.WriteString(". topic=" + topic)
	return b.String()
}

// scaleProb weights a base probability by persona and mood. Peer actions
// depend on collaboration, the rest on confidence.
func (s *StudentBehavior) scaleProb(t *Turn, base float64, peer bool) float64 {
	p := t.Profile().Persona
	m := s.Mood()
	factor := 0.35 + 0.4*p.Engagement + 0.15*m.Motivation
	factor *= 0.6 + 0.4*m.Energy
	factor *= 0.6 + 0.4*m.Attention
	factor *= 1 - math.Min(0.4, m.Stress)
	if peer {
		factor *= 0.6 + 0.4*p.Collaboration
	} else {
		factor *= 0.6 + 0.4*p.Confidence
	}
	return math.Max(0.05, math.Min(0.95, base*factor))
}

func (s *StudentBehavior) noiseProb(base float64) float64 {
	m := s.Mood()
	return math.Max(0.02, math.Min(0.3, base*(1.2-m.Attention)*(0.8+0.4*m.Stress)))
}

func (s *StudentBehavior) applyRoutine(action string) {
	s.adjust(func(m *Mood) {
		switch action {
		case schedule.ActionWake:
			m.SleepDebt = math.Max(0, m.SleepDebt-0.2)
			m.Energy = math.Min(1, m.Energy+0.2)
		case schedule.ActionBreakfastStart:
			m.Energy = math.Min(1, m.Energy+0.1)
			m.Attention = math.Min(1, m.Attention+0.05)
		case schedule.ActionLunchStart:
			m.Energy = math.Min(1, m.Energy+0.15)
			m.Stress = math.Max(0, m.Stress-0.1)
		case schedule.ActionSchoolEnd:
			m.Stress = math.Max(0, m.Stress-0.2)
			m.Motivation = math.Min(1, m.Motivation+0.05)
			m.Energy = math.Max(0.2, m.Energy-0.05)
		}
	})
}

func topicOr(content, fallback string) string {
	if topic, ok := ExtractTopic(content); ok && topic != "" {
		return topic
	}
	return fallback
}
