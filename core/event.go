package core

// WorldEventKind classifies an entry in the global event log.
type WorldEventKind string

// World event kinds.
const (
	WorldEventMessage     WorldEventKind = "message"
	WorldEventPerception  WorldEventKind = "perception"
	WorldEventDrop        WorldEventKind = "drop"
	WorldEventSceneChange WorldEventKind = "scene_change"
	WorldEventSystem      WorldEventKind = "system"
)

// WorldEvent is one entry of the global event log. Message events carry the
// message as seen by ObserverID under the given visibility.
type WorldEvent struct {
	Seq        uint64         `json:"seq"`
	Tick       int64          `json:"tick"`
	Kind       WorldEventKind `json:"kind"`
	Visibility Visibility     `json:"visibility"`
	ActorID    string         `json:"actor_id,omitempty"`
	ObserverID string         `json:"observer_id,omitempty"`
	Message    *Message       `json:"message,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// EventType names a scheduled stimulus handed to agents at the start of a tick.
type EventType string

// Scheduled event types.
const (
	EventClassSession    EventType = "class_session"
	EventPhaseLecture    EventType = "phase_lecture"
	EventPhaseQuestions  EventType = "phase_questions"
	EventGroupDiscussion EventType = "group_discussion"
	EventPhaseSummary    EventType = "phase_summary"
	EventReview          EventType = "review"
	EventDailyTest       EventType = "daily_test"
	EventAnnouncement    EventType = "announcement"
	EventDayTransition   EventType = "day_transition"
)

// SystemEvent is a stimulus produced by the schedule or the session
// controller. Only the fields relevant to Type are set.
type SystemEvent struct {
	Type       EventType `json:"type"`
	Tick       int64     `json:"tick"`
	SessionID  string    `json:"session_id,omitempty"`
	Group      string    `json:"group,omitempty"`
	TeacherID  string    `json:"teacher_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	CourseID   string    `json:"course_id,omitempty"`
	LessonID   string    `json:"lesson_id,omitempty"`
	LessonPlan string    `json:"lesson_plan,omitempty"`
	Concepts   []string  `json:"concepts,omitempty"`
	Intensity  float64   `json:"intensity,omitempty"`
	Action     string    `json:"action,omitempty"`
	Text       string    `json:"text,omitempty"`
}
