package testutil

import (
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/scenario"
)

// Group is the class group used by the builders.
const Group = "7a"

// Teacher returns a teacher profile in Group.
func Teacher(id string) core.AgentProfile {
	return core.AgentProfile{ID: id, Name: id, Role: core.RoleTeacher, Group: Group, Persona: core.DefaultPersona()}
}

// Student returns a student profile in Group.
func Student(id string) core.AgentProfile {
	return core.AgentProfile{ID: id, Name: id, Role: core.RoleStudent, Group: Group, Persona: core.DefaultPersona()}
}

// ScenarioBuilder helps construct scenarios with fluent chaining for tests.
// Example:
//
//	sc := NewScenarioBuilder().Agents(Teacher("t1"), Student("s1")).ClassAt(1, "t1", "fractions").Build()
type ScenarioBuilder struct {
	sc *scenario.Scenario
}

// NewScenarioBuilder starts from scenario.Base with an empty roster and no
// world layout, so every agent hears every message with TRUE visibility.
func NewScenarioBuilder() *ScenarioBuilder {
	sc := scenario.Base()
	sc.Name = "test"
	sc.World.Layout = nil
	return &ScenarioBuilder{sc: sc}
}

// Agents appends roster entries (chainable).
func (b *ScenarioBuilder) Agents(ps ...core.AgentProfile) *ScenarioBuilder {
	for _, p := range ps {
		b.sc.Agents = append(b.sc.Agents, scenario.AgentSpec{AgentProfile: p})
	}
	return b
}

// Seed sets the scenario seed (chainable).
func (b *ScenarioBuilder) Seed(seed int64) *ScenarioBuilder { b.sc.Seed = seed; return b }

// LectureTicks sets the length of the lecture phase (chainable).
func (b *ScenarioBuilder) LectureTicks(n int) *ScenarioBuilder {
	b.sc.ClassController.LectureTicks = n
	return b
}

// ClassAt schedules a class session for Group at tick (chainable).
func (b *ScenarioBuilder) ClassAt(tick int64, teacherID, topic string) *ScenarioBuilder {
	return b.Event(core.SystemEvent{Type: core.EventClassSession, Tick: tick, Group: Group, TeacherID: teacherID, Topic: topic})
}

// Event appends a scripted event (chainable).
func (b *ScenarioBuilder) Event(ev core.SystemEvent) *ScenarioBuilder {
	b.sc.Events = append(b.sc.Events, scenario.ScriptedEvent{SystemEvent: ev})
	return b
}

// Edit applies fn to the scenario under construction (chainable).
func (b *ScenarioBuilder) Edit(fn func(sc *scenario.Scenario)) *ScenarioBuilder {
	fn(b.sc)
	return b
}

// Build returns the scenario.
func (b *ScenarioBuilder) Build() *scenario.Scenario { return b.sc }
