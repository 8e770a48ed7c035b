package core

// WeekMode is the semester level classification of a week.
type WeekMode string

// Week modes.
const (
	WeekTeaching WeekMode = "teaching"
	WeekReview   WeekMode = "review"
	WeekExam     WeekMode = "exam"
)

// Valid reports whether m is a known week mode.
func (m WeekMode) Valid() bool {
	return m == WeekTeaching || m == WeekReview || m == WeekExam
}

// SimTime is the simulated wall clock derived from a tick. It is always
// recomputable from the tick and the calendar configuration.
type SimTime struct {
	Tick      int64    `json:"tick"`
	DayIndex  int      `json:"day_index"`
	Weekday   string   `json:"weekday"`
	SimMinute int      `json:"sim_minute"`
	ClockTime string   `json:"clock_time"`
	Date      string   `json:"date"`
	WeekIndex int      `json:"week_index"`
	WeekType  string   `json:"week_type"`
	WeekMode  WeekMode `json:"week_mode"`
	SchoolDay bool     `json:"school_day"`
	Holiday   bool     `json:"holiday"`
}

// KnowledgeRecord is the latest understanding score of one agent for one topic.
type KnowledgeRecord struct {
	AgentID   string  `json:"agent_id"`
	Topic     string  `json:"topic"`
	Score     float64 `json:"score"`
	Delta     float64 `json:"delta"`
	UpdatedAt int64   `json:"updated_at"`
	Source    string  `json:"source,omitempty"`
	CauseID   string  `json:"cause_id,omitempty"`
}

// TimetableEntry schedules a lesson for a group.
type TimetableEntry struct {
	Group     string   `yaml:"group" json:"group"`
	TeacherID string   `yaml:"teacher_id" json:"teacher_id"`
	Topic     string   `yaml:"topic" json:"topic"`
	CourseID  string   `yaml:"course_id" json:"course_id,omitempty"`
	Weekdays  []string `yaml:"weekdays" json:"weekdays"`
	StartTime string   `yaml:"start_time" json:"start_time"`
	EndTime   string   `yaml:"end_time" json:"end_time,omitempty"`
}
