package session

import (
	"slices"

	"github.com/hupe1980/classmesh/core"
)

// Quiz answers, grades and feedback reply to messages sent in an earlier
// phase, so every active phase allows them.
var teacherTopics = map[core.Phase][]core.Topic{
	core.PhaseLecture:  {core.TopicLecture, core.TopicColdCall, core.TopicDiscipline, core.TopicAnswer, core.TopicQuizScore},
	core.PhaseQuestion: {core.TopicAnswer, core.TopicColdCall, core.TopicDiscipline, core.TopicQuizScore},
	core.PhaseGroup:    {core.TopicAnswer, core.TopicDiscipline, core.TopicNote, core.TopicQuizScore},
	core.PhaseSummary:  {core.TopicSummary, core.TopicQuiz, core.TopicQuizScore, core.TopicDiscipline},
	core.PhaseInactive: {core.TopicAnswer, core.TopicQuiz, core.TopicQuizScore, core.TopicNote, core.TopicDiscipline, core.TopicReview},
}

var studentTopics = map[core.Phase][]core.Topic{
	core.PhaseLecture:  {core.TopicAck, core.TopicQuizAnswer, core.TopicNoise, core.TopicAnswer, core.TopicFeedback},
	core.PhaseQuestion: {core.TopicQuestion, core.TopicAck, core.TopicAnswer, core.TopicThanks, core.TopicQuizAnswer, core.TopicFeedback},
	core.PhaseGroup:    {core.TopicPeerComment, core.TopicStudentComment, core.TopicQuestion, core.TopicThanks, core.TopicNoise, core.TopicQuizAnswer, core.TopicFeedback},
	core.PhaseSummary:  {core.TopicAck, core.TopicThanks, core.TopicFeedback, core.TopicQuizAnswer},
	core.PhaseInactive: {core.TopicNote, core.TopicThanks, core.TopicPeerComment, core.TopicNoise, core.TopicQuizAnswer, core.TopicFeedback},
}

// AllowedTopics returns the topics role may emit during phase.
func AllowedTopics(role core.Role, phase core.Phase) []core.Topic {
	switch role {
	case core.RoleTeacher:
		return slices.Clone(teacherTopics[phase])
	case core.RoleStudent:
		return slices.Clone(studentTopics[phase])
	default:
		return nil
	}
}

// Allowed reports whether topic is legal. Noise is always legal since it is
// the downgrade target for disallowed topics.
func Allowed(allowed []core.Topic, topic core.Topic) bool {
	return topic == core.TopicNoise || slices.Contains(allowed, topic)
}

// Enforce returns msg unchanged when its topic is allowed, otherwise a copy
// downgraded to noise. The second result reports a downgrade.
func Enforce(allowed []core.Topic, msg core.Message) (core.Message, bool) {
	if Allowed(allowed, msg.Topic) {
		return msg, false
	}
	msg.Topic = core.TopicNoise
	return msg, true
}
