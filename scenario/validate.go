package scenario

import (
	"fmt"

	"github.com/hupe1980/classmesh/core"
)

// Validate reports the first invalid setting as a *core.ConfigError.
func (s *Scenario) Validate() error {
	if s.Ticks < 0 {
		return core.NewConfigError("ticks", "must not be negative, got %d", s.Ticks)
	}
	if err := s.Runtime.validate(); err != nil {
		return err
	}
	switch s.LLM.Provider {
	case "", ProviderNone, ProviderOpenAI, ProviderAnthropic:
	default:
		return core.NewConfigError("llm.provider", "unknown provider %q (valid: none, openai, anthropic)", s.LLM.Provider)
	}
	if s.LLM.CallBudget < 0 {
		return core.NewConfigError("llm.call_budget", "must not be negative")
	}

	validators := []interface{ Validate() error }{
		s.Calendar,
		s.ScheduleConfig(),
		s.ClassController,
		s.Behavior,
		s.World,
		s.Perception,
		s.Curriculum,
		s.Social,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	roles, err := s.validateAgents()
	if err != nil {
		return err
	}
	if err := s.validateTimetable(roles); err != nil {
		return err
	}
	for name, pairs := range map[string][][2]string{
		"friends":   pairsOf(s.Social.Friends),
		"conflicts": pairsOf(s.Social.Conflicts),
		"seatmates": pairsOf(s.Social.Seatmates),
	} {
		for i, p := range pairs {
			for _, id := range p {
				if _, ok := roles[id]; !ok {
					return core.NewConfigError(fmt.Sprintf("social_graph.%s[%d]", name, i), "unknown agent %q", id)
				}
			}
		}
	}
	for i, ev := range s.Events {
		field := fmt.Sprintf("events[%d]", i)
		if ev.Type == "" {
			return core.NewConfigError(field+".type", "is required")
		}
		if ev.Tick < 1 {
			return core.NewConfigError(field+".tick", "must be at least 1, got %d", ev.Tick)
		}
	}
	return nil
}

func (r RuntimeConfig) validate() error {
	if r.QueueCapacity < 1 {
		return core.NewConfigError("runtime.queue_capacity", "must be at least 1, got %d", r.QueueCapacity)
	}
	if r.MaxContextItems < 1 {
		return core.NewConfigError("runtime.max_context_items", "must be at least 1, got %d", r.MaxContextItems)
	}
	if r.DecisionTimeout < 0 {
		return core.NewConfigError("runtime.decision_timeout", "must not be negative")
	}
	if r.MaxRestarts < 0 {
		return core.NewConfigError("runtime.max_restarts", "must not be negative")
	}
	if r.TickInterval < 0 {
		return core.NewConfigError("runtime.tick_interval", "must not be negative")
	}
	if r.WriteQueueSize < 0 || r.WriteRetries < 0 {
		return core.NewConfigError("runtime.write_queue_size", "write settings must not be negative")
	}
	if r.WriteTimeout < 0 {
		return core.NewConfigError("runtime.write_timeout", "must not be negative")
	}
	return nil
}

func (s *Scenario) validateAgents() (map[string]core.Role, error) {
	if len(s.Agents) == 0 {
		return nil, core.NewConfigError("agents", "at least one agent is required")
	}
	roles := make(map[string]core.Role, len(s.Agents))
	for i, a := range s.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if err := a.AgentProfile.Validate(); err != nil {
			return nil, &core.ConfigError{Field: field, Err: err}
		}
		if _, dup := roles[a.ID]; dup {
			return nil, core.NewConfigError(field+".id", "duplicate agent %q", a.ID)
		}
		if a.Template != "" {
			if _, ok := s.PersonaTemplates[a.Template]; !ok {
				return nil, core.NewConfigError(field+".template", "unknown persona template %q", a.Template)
			}
		}
		roles[a.ID] = a.Role
	}
	return roles, nil
}

func (s *Scenario) validateTimetable(roles map[string]core.Role) error {
	courses := make(map[string]bool, len(s.Curriculum.Courses))
	for _, c := range s.Curriculum.Courses {
		courses[c.ID] = true
	}
	groups := make(map[string]bool)
	for _, a := range s.Agents {
		groups[a.Group] = true
	}
	for i, e := range s.Timetable {
		field := fmt.Sprintf("timetable[%d]", i)
		if role, ok := roles[e.TeacherID]; !ok || role != core.RoleTeacher {
			return core.NewConfigError(field+".teacher_id", "%q is not a teacher of the roster", e.TeacherID)
		}
		if !groups[e.Group] && e.Group != core.GroupAll {
			return core.NewConfigError(field+".group", "no agent belongs to group %q", e.Group)
		}
		if e.CourseID != "" && !courses[e.CourseID] {
			return core.NewConfigError(field+".course_id", "unknown course %q", e.CourseID)
		}
	}
	return nil
}

func pairsOf[P ~[2]string](ps []P) [][2]string {
	out := make([][2]string, len(ps))
	for i, p := range ps {
		out[i] = [2]string(p)
	}
	return out
}
