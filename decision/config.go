package decision

import "github.com/hupe1980/classmesh/core"

// StudentConfig holds the base probabilities of student behaviour. Each is
// scaled by persona and mood before it is rolled.
type StudentConfig struct {
	QuestionProb    float64 `yaml:"question_prob" json:"question_prob"`
	DiscussProb     float64 `yaml:"discuss_prob" json:"discuss_prob"`
	PeerDiscussProb float64 `yaml:"peer_discuss_prob" json:"peer_discuss_prob"`
	PeerReplyProb   float64 `yaml:"peer_reply_prob" json:"peer_reply_prob"`
	QuizAnswerProb  float64 `yaml:"quiz_answer_prob" json:"quiz_answer_prob"`
	NoiseProb       float64 `yaml:"noise_prob" json:"noise_prob"`
}

// TeacherConfig holds the probabilities and thresholds of teacher behaviour.
type TeacherConfig struct {
	ColdCallProb           float64 `yaml:"cold_call_prob" json:"cold_call_prob"`
	RowColdCallProb        float64 `yaml:"row_cold_call_prob" json:"row_cold_call_prob"`
	GeneralDisciplineProb  float64 `yaml:"general_discipline_prob" json:"general_discipline_prob"`
	HiddenNoiseIgnoreProb  float64 `yaml:"hidden_noise_ignore_prob" json:"hidden_noise_ignore_prob"`
	OverheardSenderProb    float64 `yaml:"overheard_sender_prob" json:"overheard_sender_prob"`
	OverheardBroadcastProb float64 `yaml:"overheard_broadcast_prob" json:"overheard_broadcast_prob"`
	WeakConceptThreshold   float64 `yaml:"weak_concept_threshold" json:"weak_concept_threshold"`
	QuizConcepts           int     `yaml:"quiz_concepts" json:"quiz_concepts"`
}

// Config configures the rule-based behaviours.
type Config struct {
	Student StudentConfig `yaml:"student" json:"student"`
	Teacher TeacherConfig `yaml:"teacher" json:"teacher"`
}

// DefaultConfig returns the stock classroom behaviour.
func DefaultConfig() Config {
	return Config{
		Student: StudentConfig{
			QuestionProb:    0.7,
			DiscussProb:     0.5,
			PeerDiscussProb: 0.6,
			PeerReplyProb:   0.5,
			QuizAnswerProb:  0.85,
			NoiseProb:       0.08,
		},
		Teacher: TeacherConfig{
			ColdCallProb:           0.25,
			RowColdCallProb:        0.45,
			GeneralDisciplineProb:  0.4,
			HiddenNoiseIgnoreProb:  0.6,
			OverheardSenderProb:    0.5,
			OverheardBroadcastProb: 0.3,
			WeakConceptThreshold:   0.6,
			QuizConcepts:           2,
		},
	}
}

// Validate checks that every probability lies in [0,1].
func (c Config) Validate() error {
	probs := []struct {
		field string
		value float64
	}{
		{"behavior.student.question_prob", c.Student.QuestionProb},
		{"behavior.student.discuss_prob", c.Student.DiscussProb},
		{"behavior.student.peer_discuss_prob", c.Student.PeerDiscussProb},
		{"behavior.student.peer_reply_prob", c.Student.PeerReplyProb},
		{"behavior.student.quiz_answer_prob", c.Student.QuizAnswerProb},
		{"behavior.student.noise_prob", c.Student.NoiseProb},
		{"behavior.teacher.cold_call_prob", c.Teacher.ColdCallProb},
		{"behavior.teacher.row_cold_call_prob", c.Teacher.RowColdCallProb},
		{"behavior.teacher.general_discipline_prob", c.Teacher.GeneralDisciplineProb},
		{"behavior.teacher.hidden_noise_ignore_prob", c.Teacher.HiddenNoiseIgnoreProb},
		{"behavior.teacher.overheard_sender_prob", c.Teacher.OverheardSenderProb},
		{"behavior.teacher.overheard_broadcast_prob", c.Teacher.OverheardBroadcastProb},
		{"behavior.teacher.weak_concept_threshold", c.Teacher.WeakConceptThreshold},
	}
	for _, p := range probs {
		if p.value < 0 || p.value > 1 {
			return core.NewConfigError(p.field, "must be within [0,1], got %v", p.value)
		}
	}
	if c.Teacher.QuizConcepts < 1 {
		return core.NewConfigError("behavior.teacher.quiz_concepts", "must be at least 1")
	}
	return nil
}
