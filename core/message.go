package core

import (
	"slices"

	"github.com/google/uuid"
)

// Topic classifies a message. Session phases gate which topics a role may emit.
type Topic string

// Message topics.
const (
	TopicLecture        Topic = "lecture"
	TopicQuestion       Topic = "question"
	TopicAnswer         Topic = "answer"
	TopicAck            Topic = "ack"
	TopicThanks         Topic = "thanks"
	TopicFeedback       Topic = "feedback"
	TopicStudentComment Topic = "student_comment"
	TopicPeerComment    Topic = "peer_comment"
	TopicSummary        Topic = "summary"
	TopicQuiz           Topic = "quiz"
	TopicQuizAnswer     Topic = "quiz_answer"
	TopicQuizScore      Topic = "quiz_score"
	TopicNoise          Topic = "noise"
	TopicDiscipline     Topic = "discipline"
	TopicColdCall       Topic = "cold_call"
	TopicReview         Topic = "review"
	TopicNote           Topic = "note"
	TopicOverheard      Topic = "overheard"
)

var allTopics = []Topic{
	TopicLecture, TopicQuestion, TopicAnswer, TopicAck, TopicThanks, TopicFeedback,
	TopicStudentComment, TopicPeerComment, TopicSummary, TopicQuiz, TopicQuizAnswer,
	TopicQuizScore, TopicNoise, TopicDiscipline, TopicColdCall, TopicReview, TopicNote,
	TopicOverheard,
}

// Topics returns every known topic.
func Topics() []Topic { return slices.Clone(allTopics) }

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool { return slices.Contains(allTopics, t) }

// Visibility tags how an observer came to know about a message.
type Visibility string

const (
	// VisibilityTrue is the sender's own, undistorted view.
	VisibilityTrue Visibility = "TRUE"
	// VisibilityPerceived is a possibly degraded copy seen through perception.
	VisibilityPerceived Visibility = "PERCEIVED"
	// VisibilitySuspicion is a masked copy that only hints at the sender.
	VisibilitySuspicion Visibility = "SUSPICION"
)

// Reserved sender identifiers.
const (
	// UnknownSender replaces the sender on masked deliveries.
	UnknownSender = "unknown"
	// SystemSender marks engine generated messages.
	SystemSender = "system"
)

// GroupAll addresses every agent regardless of group.
const GroupAll = "all"

// Message is an immutable unit of communication between agents.
// An empty ReceiverID means broadcast to the sender's group.
type Message struct {
	ID          string     `json:"id"`
	Seq         uint64     `json:"seq,omitempty"`
	SenderID    string     `json:"sender_id"`
	ReceiverID  string     `json:"receiver_id,omitempty"`
	Topic       Topic      `json:"topic"`
	Content     string     `json:"content"`
	Tick        int64      `json:"tick"`
	Visibility  Visibility `json:"visibility"`
	Probability float64    `json:"probability,omitempty"`
}

// NewMessage builds a TRUE-visibility message with a fresh id.
func NewMessage(senderID, receiverID string, topic Topic, content string, tick int64) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Topic:      topic,
		Content:    content,
		Tick:       tick,
		Visibility: VisibilityTrue,
	}
}

// Broadcast reports whether the message has no explicit receiver.
func (m Message) Broadcast() bool { return m.ReceiverID == "" }
