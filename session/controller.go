package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
)

// Config holds the tick length of each phase.
type Config struct {
	LectureTicks  int `yaml:"lecture_ticks" json:"lecture_ticks"`
	QuestionTicks int `yaml:"question_ticks" json:"question_ticks"`
	GroupTicks    int `yaml:"group_ticks" json:"group_ticks"`
	SummaryTicks  int `yaml:"summary_ticks" json:"summary_ticks"`
}

// DefaultConfig returns a short class cycle.
func DefaultConfig() Config {
	return Config{LectureTicks: 3, QuestionTicks: 2, GroupTicks: 2, SummaryTicks: 1}
}

// Validate checks that every phase lasts at least one tick.
func (c Config) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"class_controller.lecture_ticks", c.LectureTicks},
		{"class_controller.question_ticks", c.QuestionTicks},
		{"class_controller.group_ticks", c.GroupTicks},
		{"class_controller.summary_ticks", c.SummaryTicks},
	}
	for _, chk := range checks {
		if chk.value < 1 {
			return core.NewConfigError(chk.field, "must be at least 1, got %d", chk.value)
		}
	}
	return nil
}

// Duration returns the configured ticks of phase.
func (c Config) Duration(p core.Phase) int {
	switch p {
	case core.PhaseLecture:
		return c.LectureTicks
	case core.PhaseQuestion:
		return c.QuestionTicks
	case core.PhaseGroup:
		return c.GroupTicks
	case core.PhaseSummary:
		return c.SummaryTicks
	default:
		return 0
	}
}

var phaseEvents = map[core.Phase]core.EventType{
	core.PhaseLecture:  core.EventPhaseLecture,
	core.PhaseQuestion: core.EventPhaseQuestions,
	core.PhaseGroup:    core.EventGroupDiscussion,
	core.PhaseSummary:  core.EventPhaseSummary,
}

// Controller is the session state machine of one group.
type Controller struct {
	state core.SessionPhase
	base  core.SystemEvent
}

func (c *Controller) phaseEvent(tick int64) core.SystemEvent {
	ev := c.base
	ev.Type = phaseEvents[c.state.Phase]
	ev.Tick = tick
	ev.Concepts = append([]string(nil), c.base.Concepts...)
	return ev
}

func (c *Controller) start(cfg Config, ev core.SystemEvent, entry core.TimetableEntry, endTick int64) core.SystemEvent {
	if ev.SessionID == "" {
		ev.SessionID = uuid.NewString()
	}
	c.base = ev
	c.state = core.SessionPhase{
		Phase:     core.PhaseLecture,
		Remaining: cfg.Duration(core.PhaseLecture),
		SessionID: ev.SessionID,
		Entry:     entry,
		StartTick: ev.Tick,
		EndTick:   endTick,
	}
	return c.phaseEvent(ev.Tick)
}

// advance moves one tick forward and returns the phase event on a transition.
func (c *Controller) advance(cfg Config, tick int64) (core.SystemEvent, bool) {
	if !c.state.Active() || tick <= c.state.StartTick {
		return core.SystemEvent{}, false
	}
	if c.state.EndTick > 0 && tick >= c.state.EndTick {
		c.state = core.SessionPhase{Phase: core.PhaseInactive, Entry: c.state.Entry}
		return core.SystemEvent{}, false
	}
	c.state.Remaining--
	if c.state.Remaining > 0 {
		return core.SystemEvent{}, false
	}
	c.state.Phase = c.state.Phase.Next()
	c.state.Remaining = cfg.Duration(c.state.Phase)
	return c.phaseEvent(tick), true
}

// Manager owns the controllers of all groups.
type Manager struct {
	mu          sync.RWMutex
	cfg         Config
	controllers map[string]*Controller
	lastTick    int64
	logger      logging.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger logging.Logger) *Manager {
	return &Manager{cfg: cfg, controllers: make(map[string]*Controller), logger: logging.OrNoOp(logger)}
}

// SetConfig replaces phase lengths. Running sessions keep their current
// counter and pick up the new lengths at the next transition.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Start activates the group's session for a class_session event at ev.Tick.
// That tick is the first Lecture tick. endTick (exclusive) is when the
// timetable entry ends; 0 means the session cycles until replaced.
func (m *Manager) Start(ev core.SystemEvent, entry core.TimetableEntry, endTick int64) core.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[ev.Group]
	if !ok {
		c = &Controller{}
		m.controllers[ev.Group] = c
	}
	out := c.start(m.cfg, ev, entry, endTick)
	m.logger.Info("session.started", "group", ev.Group, "session_id", out.SessionID, "teacher_id", ev.TeacherID, "tick", ev.Tick)
	return out
}

// Advance refreshes every controller for tick and returns the phase events
// of the groups that changed phase, ordered by group. Calling it twice for
// the same tick is a no-op.
func (m *Manager) Advance(tick int64) []core.SystemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tick <= m.lastTick {
		return nil
	}
	m.lastTick = tick
	groups := make([]string, 0, len(m.controllers))
	for g := range m.controllers {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	var events []core.SystemEvent
	for _, g := range groups {
		c := m.controllers[g]
		wasActive := c.state.Active()
		if ev, ok := c.advance(m.cfg, tick); ok {
			events = append(events, ev)
			m.logger.Debug("session.phase", "group", g, "phase", c.state.Phase.String(), "tick", tick)
		}
		if wasActive && !c.state.Active() {
			m.logger.Info("session.ended", "group", g, "tick", tick)
		}
	}
	return events
}

// Phase returns the group's session snapshot. Unknown groups are inactive.
func (m *Manager) Phase(group string) core.SessionPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.controllers[group]; ok {
		return c.state
	}
	return core.SessionPhase{}
}

// AllowedTopics returns what role may emit in group right now.
func (m *Manager) AllowedTopics(role core.Role, group string) []core.Topic {
	return AllowedTopics(role, m.Phase(group).Phase)
}

// Snapshot returns all group sessions.
func (m *Manager) Snapshot() map[string]core.SessionPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]core.SessionPhase, len(m.controllers))
	for g, c := range m.controllers {
		out[g] = c.state
	}
	return out
}
