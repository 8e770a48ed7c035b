package core

// Phase is the state of a class session.
type Phase int

// Session phases. PhaseInactive means no session is running for the group.
const (
	PhaseInactive Phase = iota
	PhaseLecture
	PhaseQuestion
	PhaseGroup
	PhaseSummary
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseLecture:
		return "lecture"
	case PhaseQuestion:
		return "question"
	case PhaseGroup:
		return "group"
	case PhaseSummary:
		return "summary"
	default:
		return "inactive"
	}
}

// MarshalText renders the phase name in JSON and YAML.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Next returns the following phase in the fixed cycle
// Lecture, Question, Group, Summary, Lecture.
func (p Phase) Next() Phase {
	switch p {
	case PhaseLecture:
		return PhaseQuestion
	case PhaseQuestion:
		return PhaseGroup
	case PhaseGroup:
		return PhaseSummary
	default:
		return PhaseLecture
	}
}

// SessionPhase is a snapshot of a group's class session.
type SessionPhase struct {
	Phase     Phase          `json:"phase"`
	Remaining int            `json:"remaining"`
	SessionID string         `json:"session_id,omitempty"`
	Entry     TimetableEntry `json:"entry"`
	StartTick int64          `json:"start_tick,omitempty"`
	EndTick   int64          `json:"end_tick,omitempty"`
}

// Active reports whether a session is running.
func (s SessionPhase) Active() bool { return s.Phase != PhaseInactive }
