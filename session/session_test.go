package session

import (
	"testing"

	"github.com/hupe1980/classmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classEvent(tick int64) core.SystemEvent {
	return core.SystemEvent{Type: core.EventClassSession, Tick: tick, Group: "g1", TeacherID: "t1", Topic: "math", Concepts: []string{"fractions"}}
}

func TestManager_PhaseGatingFollowsCycle(t *testing.T) {
	cfg := Config{LectureTicks: 4, QuestionTicks: 2, GroupTicks: 2, SummaryTicks: 1}
	m := NewManager(cfg, nil)

	ev := m.Start(classEvent(1), core.TimetableEntry{Group: "g1", TeacherID: "t1"}, 0)
	assert.Equal(t, core.EventPhaseLecture, ev.Type)
	assert.NotEmpty(t, ev.SessionID)

	for tick := int64(1); tick <= 4; tick++ {
		assert.Empty(t, m.Advance(tick))
		assert.Equal(t, core.PhaseLecture, m.Phase("g1").Phase, "tick %d", tick)
		assert.True(t, Allowed(m.AllowedTopics(core.RoleTeacher, "g1"), core.TopicLecture))
		assert.False(t, Allowed(m.AllowedTopics(core.RoleStudent, "g1"), core.TopicQuestion))
		assert.False(t, Allowed(m.AllowedTopics(core.RoleStudent, "g1"), core.TopicLecture))
	}

	events := m.Advance(5)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventPhaseQuestions, events[0].Type)
	assert.Equal(t, ev.SessionID, events[0].SessionID)
	assert.Equal(t, []string{"fractions"}, events[0].Concepts)
	assert.Equal(t, core.PhaseQuestion, m.Phase("g1").Phase)
	assert.True(t, Allowed(m.AllowedTopics(core.RoleStudent, "g1"), core.TopicQuestion))

	assert.Empty(t, m.Advance(6))
	events = m.Advance(7)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventGroupDiscussion, events[0].Type)
	m.Advance(8)
	events = m.Advance(9)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventPhaseSummary, events[0].Type)
	events = m.Advance(10)
	require.Len(t, events, 1)
	assert.Equal(t, core.EventPhaseLecture, events[0].Type)
}

func TestManager_DeactivatesAtEntryEnd(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.Start(classEvent(10), core.TimetableEntry{Group: "g1"}, 13)
	m.Advance(11)
	m.Advance(12)
	assert.True(t, m.Phase("g1").Active())
	m.Advance(13)
	assert.False(t, m.Phase("g1").Active())
	assert.Equal(t, AllowedTopics(core.RoleStudent, core.PhaseInactive), m.AllowedTopics(core.RoleStudent, "g1"))
	assert.False(t, m.Phase("other").Active())
}

func TestManager_AdvanceIsIdempotentPerTick(t *testing.T) {
	m := NewManager(Config{LectureTicks: 1, QuestionTicks: 1, GroupTicks: 1, SummaryTicks: 1}, nil)
	m.Start(classEvent(1), core.TimetableEntry{}, 0)
	require.Len(t, m.Advance(2), 1)
	assert.Empty(t, m.Advance(2))
	assert.Equal(t, core.PhaseQuestion, m.Phase("g1").Phase)
}

func TestEnforce_DowngradesToNoise(t *testing.T) {
	allowed := AllowedTopics(core.RoleStudent, core.PhaseLecture)
	msg := core.NewMessage("s1", "", core.TopicLecture, "I am the teacher now", 1)
	out, downgraded := Enforce(allowed, msg)
	assert.True(t, downgraded)
	assert.Equal(t, core.TopicNoise, out.Topic)
	assert.Equal(t, msg.Content, out.Content)

	ok := core.NewMessage("s1", "t1", core.TopicAck, "ok", 1)
	out, downgraded = Enforce(allowed, ok)
	assert.False(t, downgraded)
	assert.Equal(t, ok, out)
}

func TestAllowedTopics_RepliesLegalInEveryActivePhase(t *testing.T) {
	for _, phase := range []core.Phase{core.PhaseLecture, core.PhaseQuestion, core.PhaseGroup, core.PhaseSummary} {
		t.Run(phase.String(), func(t *testing.T) {
			assert.True(t, Allowed(AllowedTopics(core.RoleTeacher, phase), core.TopicQuizScore))
			assert.True(t, Allowed(AllowedTopics(core.RoleStudent, phase), core.TopicQuizAnswer))
			assert.True(t, Allowed(AllowedTopics(core.RoleStudent, phase), core.TopicFeedback))
		})
	}
	assert.False(t, Allowed(AllowedTopics(core.RoleTeacher, core.PhaseLecture), core.TopicQuiz))
}

func TestAllowedTopics_UnknownRole(t *testing.T) {
	assert.Nil(t, AllowedTopics(core.Role("janitor"), core.PhaseLecture))
	assert.True(t, Allowed(nil, core.TopicNoise))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.GroupTicks = 0
	var cerr *core.ConfigError
	require.ErrorAs(t, cfg.Validate(), &cerr)
	assert.Equal(t, "class_controller.group_ticks", cerr.Field)
}
