// Package scenario loads, overlays and validates simulation scenarios.
//
// A scenario is a YAML document holding the roster, the calendar, the daily
// routine, the timetable and every tunable of the simulation. Load starts
// from the built-in defaults, decodes the file over them and applies
// CLASSMESH_* environment overrides; Validate reports the first problem as a
// *core.ConfigError naming the offending field.
package scenario

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/memory"
	"github.com/hupe1980/classmesh/perception"
	"github.com/hupe1980/classmesh/schedule"
	"github.com/hupe1980/classmesh/session"
	"github.com/hupe1980/classmesh/social"
	"github.com/hupe1980/classmesh/world"
)

// LLM providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// RuntimeConfig holds the scheduler and supervision settings.
type RuntimeConfig struct {
	QueueCapacity   int           `yaml:"queue_capacity" json:"queue_capacity"`
	MaxContextItems int           `yaml:"max_context_items" json:"max_context_items"`
	MaxSummaryRunes int           `yaml:"max_summary_runes" json:"max_summary_runes"`
	DecisionTimeout time.Duration `yaml:"decision_timeout" json:"decision_timeout"`
	MaxRestarts     int           `yaml:"max_restarts" json:"max_restarts"`
	TickInterval    time.Duration `yaml:"tick_interval" json:"tick_interval"`
	WriteQueueSize  int           `yaml:"write_queue_size" json:"write_queue_size"`
	WriteRetries    int           `yaml:"write_retries" json:"write_retries"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LLMConfig selects and tunes the language model used by LLM-enabled agents.
type LLMConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens" json:"max_tokens"`
	// CallBudget caps model calls per run; 0 means unlimited.
	CallBudget int `yaml:"call_budget" json:"call_budget"`
	// ModelCompaction condenses context windows with the model.
	ModelCompaction bool `yaml:"model_compaction" json:"model_compaction"`
	// APIKey is never read from the scenario file.
	APIKey string `yaml:"-" json:"-"`
}

// Enabled reports whether a provider is configured.
func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != ProviderNone
}

// String keeps the API key out of logs.
func (c LLMConfig) String() string {
	key := ""
	if c.APIKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("LLMConfig{Provider:%s, Model:%s, APIKey:%s}", c.Provider, c.Model, key)
}

// APIConfig configures the HTTP query surface.
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// AgentSpec is a roster entry. Template names a persona template whose
// values fill every persona field the entry leaves empty.
type AgentSpec struct {
	core.AgentProfile `yaml:",inline"`
	Template          string `yaml:"template" json:"template,omitempty"`
}

// ScriptedEvent injects a system event at a fixed tick.
type ScriptedEvent struct {
	core.SystemEvent `yaml:",inline"`
}

// Scenario is a complete simulation configuration.
type Scenario struct {
	Name             string                  `yaml:"name" json:"name"`
	Seed             int64                   `yaml:"seed" json:"seed"`
	Ticks            int64                   `yaml:"ticks" json:"ticks"`
	Runtime          RuntimeConfig           `yaml:"runtime" json:"runtime"`
	LLM              LLMConfig               `yaml:"llm" json:"llm"`
	API              APIConfig               `yaml:"api" json:"api"`
	Calendar         clock.CalendarConfig    `yaml:"calendar" json:"calendar"`
	Routine          schedule.Routine        `yaml:"routine" json:"routine"`
	Timetable        []core.TimetableEntry   `yaml:"timetable" json:"timetable"`
	ClassController  session.Config          `yaml:"class_controller" json:"class_controller"`
	Behavior         decision.Config         `yaml:"behavior" json:"behavior"`
	World            world.Config            `yaml:"world" json:"world"`
	Perception       perception.Config       `yaml:"perception" json:"perception"`
	Curriculum       curriculum.Config       `yaml:"curriculum" json:"curriculum"`
	Social           social.Config           `yaml:"social_graph" json:"social_graph"`
	PersonaTemplates map[string]core.Persona `yaml:"persona_templates" json:"persona_templates,omitempty"`
	Agents           []AgentSpec             `yaml:"agents" json:"agents"`
	Events           []ScriptedEvent         `yaml:"events" json:"events,omitempty"`
}

// Base returns the default settings with an empty roster, timetable and
// curriculum. Files are decoded over it.
func Base() *Scenario {
	return &Scenario{
		Name: "classroom",
		Seed: 7,
		Runtime: RuntimeConfig{
			QueueCapacity:   bus.DefaultQueueCapacity,
			MaxContextItems: memory.DefaultMaxItems,
			MaxSummaryRunes: memory.DefaultMaxSummaryRunes,
			DecisionTimeout: 15 * time.Second,
			MaxRestarts:     3,
			WriteQueueSize:  1024,
			WriteRetries:    3,
			WriteTimeout:    time.Second,
		},
		LLM: LLMConfig{
			Provider:    ProviderNone,
			Temperature: 0.3,
			MaxTokens:   200,
		},
		API:             APIConfig{Addr: "127.0.0.1:8010"},
		Calendar:        clock.DefaultCalendar(),
		Routine:         schedule.DefaultRoutine(),
		ClassController: session.DefaultConfig(),
		Behavior:        decision.DefaultConfig(),
		World:           world.DefaultConfig(),
		Perception:      perception.DefaultConfig(),
	}
}

// Load reads the scenario at path over Base and applies environment
// overrides. The result is not validated.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.ApplyEnv(os.Getenv)
	return s, nil
}

// Parse decodes a YAML scenario over Base.
func Parse(data []byte) (*Scenario, error) {
	s := Base()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, &core.ConfigError{Field: "scenario", Reason: "invalid yaml", Err: err}
	}
	s.normalize()
	return s, nil
}

// Marshal renders the scenario as YAML.
func (s *Scenario) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// normalize fills personas from their templates, and from the default
// persona when no scalar trait is set.
func (s *Scenario) normalize() {
	for i := range s.Agents {
		p := &s.Agents[i].Persona
		if tpl, ok := s.PersonaTemplates[s.Agents[i].Template]; ok {
			fillPersona(p, tpl)
		}
		if p.Engagement == 0 && p.Confidence == 0 && p.Collaboration == 0 {
			fillPersona(p, core.DefaultPersona())
		}
	}
}

func fillPersona(p *core.Persona, tpl core.Persona) {
	if len(p.Traits) == 0 {
		p.Traits = slices.Clone(tpl.Traits)
	}
	if p.Tone == "" {
		p.Tone = tpl.Tone
	}
	if len(p.Interests) == 0 {
		p.Interests = slices.Clone(tpl.Interests)
	}
	if p.Bio == "" {
		p.Bio = tpl.Bio
	}
	if p.Engagement == 0 {
		p.Engagement = tpl.Engagement
	}
	if p.Confidence == 0 {
		p.Confidence = tpl.Confidence
	}
	if p.Collaboration == 0 {
		p.Collaboration = tpl.Collaboration
	}
}

// Profiles returns the roster profiles in file order.
func (s *Scenario) Profiles() []core.AgentProfile {
	out := make([]core.AgentProfile, 0, len(s.Agents))
	for _, a := range s.Agents {
		out = append(out, a.AgentProfile.Clone())
	}
	return out
}

// ScheduleConfig returns the schedule generator configuration.
func (s *Scenario) ScheduleConfig() schedule.Config {
	return schedule.Config{Calendar: s.Calendar, Routine: s.Routine, Timetable: s.Timetable}
}

// EventsAt returns the scripted events for tick.
func (s *Scenario) EventsAt(tick int64) []core.SystemEvent {
	var out []core.SystemEvent
	for _, ev := range s.Events {
		if ev.Tick == tick {
			out = append(out, ev.SystemEvent)
		}
	}
	return out
}

// ApplyEnv overlays CLASSMESH_* variables and provider API keys. getenv is
// usually os.Getenv.
func (s *Scenario) ApplyEnv(getenv func(string) string) {
	if v := getenv("CLASSMESH_SEED"); v != "" {
		if n, err := parseInt(v); err == nil {
			s.Seed = n
		}
	}
	if v := getenv("CLASSMESH_TICKS"); v != "" {
		if n, err := parseInt(v); err == nil {
			s.Ticks = n
		}
	}
	if v := getenv("CLASSMESH_LLM_PROVIDER"); v != "" {
		s.LLM.Provider = strings.ToLower(v)
	}
	if v := getenv("CLASSMESH_LLM_MODEL"); v != "" {
		s.LLM.Model = v
	}
	if v := getenv("CLASSMESH_DECISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.Runtime.DecisionTimeout = d
		}
	}
	if v := getenv("CLASSMESH_API_ADDR"); v != "" {
		s.API.Addr = v
	}
	switch s.LLM.Provider {
	case ProviderOpenAI:
		if v := getenv("OPENAI_API_KEY"); v != "" {
			s.LLM.APIKey = v
		}
	case ProviderAnthropic:
		if v := getenv("ANTHROPIC_API_KEY"); v != "" {
			s.LLM.APIKey = v
		}
	}
}

func parseInt(v string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
}
