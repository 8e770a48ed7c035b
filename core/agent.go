package core

import (
	"slices"
	"time"
)

// Role selects the behaviour capability set of an agent.
type Role string

const (
	// RoleStudent marks a student agent.
	RoleStudent Role = "student"
	// RoleTeacher marks a teacher agent.
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleStudent || r == RoleTeacher }

// Persona is the configurable behavioural profile of an agent. The three
// scalar traits are expected in [0,1].
type Persona struct {
	Traits        []string `yaml:"traits" json:"traits,omitempty"`
	Tone          string   `yaml:"tone" json:"tone,omitempty"`
	Interests     []string `yaml:"interests" json:"interests,omitempty"`
	Bio           string   `yaml:"bio" json:"bio,omitempty"`
	Engagement    float64  `yaml:"engagement" json:"engagement"`
	Confidence    float64  `yaml:"confidence" json:"confidence"`
	Collaboration float64  `yaml:"collaboration" json:"collaboration"`
}

// DefaultPersona returns the neutral persona used when none is configured.
func DefaultPersona() Persona {
	return Persona{Engagement: 0.5, Confidence: 0.5, Collaboration: 0.5}
}

// DecisionConfig controls which decision strategy drives an agent.
type DecisionConfig struct {
	LLMEnabled    bool          `yaml:"llm_enabled" json:"llm_enabled"`
	ToolAllowlist []string      `yaml:"tool_allowlist" json:"tool_allowlist,omitempty"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// AllowsTool reports whether the named tool is on the allowlist.
func (d DecisionConfig) AllowsTool(name string) bool {
	return slices.Contains(d.ToolAllowlist, name)
}

// AgentProfile is the registry record of one agent.
type AgentProfile struct {
	ID       string         `yaml:"id" json:"id"`
	Name     string         `yaml:"name" json:"name"`
	Role     Role           `yaml:"role" json:"role"`
	Group    string         `yaml:"group" json:"group"`
	Persona  Persona        `yaml:"persona" json:"persona"`
	Decision DecisionConfig `yaml:"decision" json:"decision"`
}

// Validate checks the profile for structural problems.
func (p AgentProfile) Validate() error {
	if p.ID == "" {
		return NewValidationError("id", "", "must not be empty")
	}
	if p.ID == UnknownSender || p.ID == SystemSender {
		return NewValidationError("id", p.ID, "is reserved")
	}
	if !p.Role.Valid() {
		return NewValidationError("role", string(p.Role), "must be student or teacher")
	}
	for field, v := range map[string]float64{
		"persona.engagement":    p.Persona.Engagement,
		"persona.confidence":    p.Persona.Confidence,
		"persona.collaboration": p.Persona.Collaboration,
	} {
		if v < 0 || v > 1 {
			return NewValidationError(field, "", "must be within [0,1]")
		}
	}
	if p.Decision.Timeout < 0 {
		return NewValidationError("decision.timeout", p.Decision.Timeout.String(), "must not be negative")
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p AgentProfile) Clone() AgentProfile {
	c := p
	c.Persona.Traits = slices.Clone(p.Persona.Traits)
	c.Persona.Interests = slices.Clone(p.Persona.Interests)
	c.Decision.ToolAllowlist = slices.Clone(p.Decision.ToolAllowlist)
	return c
}
