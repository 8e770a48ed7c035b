package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func student(id, group string) AgentProfile {
	return AgentProfile{ID: id, Name: id, Role: RoleStudent, Group: group, Persona: DefaultPersona()}
}

func TestRegistry_AddUpdateRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(student("s1", "g1")))
	require.NoError(t, r.Add(AgentProfile{ID: "t1", Role: RoleTeacher, Group: "g1"}))
	require.NoError(t, r.Add(student("s2", "g2")))

	err := r.Add(student("s1", "g1"))
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	assert.Equal(t, []string{"s1", "t1", "s2"}, r.IDs())
	assert.Equal(t, []string{"s1"}, r.GroupMembers("g1", RoleStudent))
	assert.Equal(t, []string{"s1", "t1", "s2"}, r.GroupMembers(GroupAll, ""))
	assert.Equal(t, []string{"g1", "g2"}, r.Groups())

	upd := student("s1", "g2")
	upd.Persona.Engagement = 0.9
	require.NoError(t, r.Update(upd))
	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "g2", got.Group)
	assert.InDelta(t, 0.9, got.Persona.Engagement, 1e-9)

	assert.ErrorIs(t, r.Update(student("ghost", "g1")), ErrUnknownAgent)
	require.NoError(t, r.Remove("t1"))
	assert.False(t, r.Exists("t1"))
	assert.ErrorIs(t, r.Remove("t1"), ErrUnknownAgent)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	p := student("s1", "g1")
	p.Persona.Traits = []string{"curious"}
	require.NoError(t, r.Add(p))

	got, _ := r.Get("s1")
	got.Persona.Traits[0] = "mutated"
	again, _ := r.Get("s1")
	assert.Equal(t, "curious", again.Persona.Traits[0])
}

func TestAgentProfile_Validate(t *testing.T) {
	var verr *ValidationError

	err := AgentProfile{ID: "", Role: RoleStudent}.Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)

	err = AgentProfile{ID: "x", Role: "janitor"}.Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)

	p := student("x", "g")
	p.Persona.Confidence = 1.5
	assert.Error(t, p.Validate())

	assert.Error(t, AgentProfile{ID: UnknownSender, Role: RoleStudent}.Validate())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(student(fmt.Sprintf("s%d", i), "g"))
			_ = r.GroupMembers("g", RoleStudent)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
}

func TestPhase_CycleOrder(t *testing.T) {
	assert.Equal(t, PhaseQuestion, PhaseLecture.Next())
	assert.Equal(t, PhaseGroup, PhaseQuestion.Next())
	assert.Equal(t, PhaseSummary, PhaseGroup.Next())
	assert.Equal(t, PhaseLecture, PhaseSummary.Next())
	assert.Equal(t, "inactive", PhaseInactive.String())
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		err  error
		kind FailureKind
	}{
		{&DecisionTimeoutError{AgentID: "a", Timeout: time.Second}, FailureDecisionTimeout},
		{fmt.Errorf("wrapped: %w", &DecisionError{AgentID: "a", Err: errors.New("x")}), FailureDecisionError},
		{&QueueOverflowError{AgentID: "a", Capacity: 5}, FailureQueueOverflow},
		{&PersistenceWriteError{Op: "append", Attempts: 3}, FailurePersistence},
		{NewValidationError("sender_id", "x", "unknown"), FailureValidation},
	}
	for _, c := range cases {
		kind, ok := ClassifyFailure(c.err)
		assert.True(t, ok)
		assert.Equal(t, c.kind, kind)
	}
	_, ok := ClassifyFailure(errors.New("other"))
	assert.False(t, ok)
}

func TestDecisionTimeoutError_IsDeadline(t *testing.T) {
	err := &DecisionTimeoutError{AgentID: "s1", Tick: 3, Timeout: time.Millisecond}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailureCounters(t *testing.T) {
	var f FailureCounters
	f.Inc(FailureQueueOverflow)
	f.Inc(FailureQueueOverflow)
	assert.True(t, f.Record(&DecisionError{AgentID: "a", Err: errors.New("x")}))
	snap := f.Snapshot()
	assert.Equal(t, int64(2), snap[FailureQueueOverflow])
	assert.Equal(t, int64(1), f.Count(FailureDecisionError))
}

func TestConfigError_Message(t *testing.T) {
	err := NewConfigError("calendar.day_minutes", "must be positive, got %d", 0)
	assert.Equal(t, "config error: calendar.day_minutes: must be positive, got 0", err.Error())
}

func TestModelLimiter(t *testing.T) {
	l := NewModelLimiter(2)
	assert.True(t, l.TryAcquire())
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.Equal(t, 0, l.Remaining())
	l.Reset()
	assert.Equal(t, 2, l.Remaining())

	unlimited := NewModelLimiter(0)
	assert.Equal(t, -1, unlimited.Remaining())
	var nilLimiter *ModelLimiter
	assert.True(t, nilLimiter.TryAcquire())
}

func TestNewMessage(t *testing.T) {
	m := NewMessage("s1", "", TopicQuestion, "why?", 4)
	assert.NotEmpty(t, m.ID)
	assert.True(t, m.Broadcast())
	assert.Equal(t, VisibilityTrue, m.Visibility)
	assert.True(t, TopicQuizScore.Valid())
	assert.False(t, Topic("gossip").Valid())
}
