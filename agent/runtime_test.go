package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/memory"
	"github.com/hupe1980/classmesh/session"
)

var (
	_ Inbox     = (*mockInbox)(nil)
	_ Sessions  = (*session.Manager)(nil)
	_ Contexts  = (*memory.Manager)(nil)
	_ Knowledge = (*knowledge.Tracker)(nil)
)

type mockInbox struct{ mock.Mock }

func (m *mockInbox) Drain(agentID string) []core.Message {
	args := m.Called(agentID)
	msgs, _ := args.Get(0).([]core.Message)
	return msgs
}

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Phase(group string) core.SessionPhase {
	return m.Called(group).Get(0).(core.SessionPhase)
}

func (m *mockSessions) AllowedTopics(role core.Role, group string) []core.Topic {
	return m.Called(role, group).Get(0).([]core.Topic)
}

type outbox struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (o *outbox) Publish(msg core.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}

func student(id string) core.AgentProfile {
	return core.AgentProfile{ID: id, Name: id, Role: core.RoleStudent, Group: "7a", Persona: core.DefaultPersona()}
}

func emitting(topics ...core.Topic) decision.Strategy {
	return decision.Func(func(_ context.Context, in decision.Input) (decision.Output, error) {
		var out decision.Output
		for _, tp := range topics {
			out.Messages = append(out.Messages, core.NewMessage("spoofed", "t1", tp, string(tp), 0))
		}
		return out, nil
	})
}

func TestRuntime_StepEnforcesAllowedTopics(t *testing.T) {
	inbox := &mockInbox{}
	lecture := core.NewMessage("t1", "s1", core.TopicLecture, "[math] fractions", 3)
	inbox.On("Drain", "s1").Return([]core.Message{lecture}).Once()

	sessions := &mockSessions{}
	sessions.On("Phase", "7a").Return(core.SessionPhase{Phase: core.PhaseLecture})
	sessions.On("AllowedTopics", core.RoleStudent, "7a").Return(session.AllowedTopics(core.RoleStudent, core.PhaseLecture))

	contexts := memory.NewManager()
	failures := core.NewFailureCounters()
	var seen decision.Input
	strategy := decision.Func(func(ctx context.Context, in decision.Input) (decision.Output, error) {
		seen = in
		return emitting(core.TopicAck, core.TopicQuestion).Decide(ctx, in)
	})
	rt := New(student("s1"), Deps{Inbox: inbox, Contexts: contexts, Sessions: sessions, Failures: failures},
		func(o *Options) { o.Strategy = strategy })

	out := &outbox{}
	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 4}}, out)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Drained)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, 1, res.Downgraded)
	assert.Equal(t, StateDone, rt.State())

	require.Len(t, out.msgs, 2)
	assert.Equal(t, core.TopicAck, out.msgs[0].Topic)
	assert.Equal(t, core.TopicNoise, out.msgs[1].Topic)
	for _, m := range out.msgs {
		assert.Equal(t, "s1", m.SenderID)
		assert.Equal(t, int64(4), m.Tick)
	}
	assert.Equal(t, int64(1), failures.Count(core.FailureDisallowedTopic))

	assert.Equal(t, core.PhaseLecture, seen.Phase.Phase)
	require.Len(t, seen.Inbox, 1)
	assert.Equal(t, lecture.ID, seen.Inbox[0].ID)
	require.Len(t, seen.Recent, 1)

	items, _ := contexts.Snapshot("s1")
	require.Len(t, items, 3)
	assert.Equal(t, memory.DirectionIn, items[0].Direction)
	assert.Equal(t, memory.DirectionOut, items[2].Direction)
	inbox.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestRuntime_TimeoutContributesNothing(t *testing.T) {
	failures := core.NewFailureCounters()
	slow := decision.Func(func(ctx context.Context, in decision.Input) (decision.Output, error) {
		select {
		case <-ctx.Done():
			return decision.Output{}, ctx.Err()
		case <-time.After(time.Second):
			return emitting(core.TopicNote).Decide(ctx, in)
		}
	})
	rt := New(student("s1"), Deps{Failures: failures}, func(o *Options) {
		o.Strategy = slow
		o.Timeout = 20 * time.Millisecond
	})

	out := &outbox{}
	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 7}}, out)
	assert.True(t, res.TimedOut)
	assert.Zero(t, res.Published)
	assert.Empty(t, out.msgs)
	var te *core.DecisionTimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, int64(7), te.Tick)
	assert.Equal(t, int64(1), failures.Count(core.FailureDecisionTimeout))
}

func TestRuntime_TimeoutCoversContextCompaction(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stuck := memory.CompactorFunc(func(context.Context, string, string, []memory.Item) (string, error) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return "late", nil
	})
	contexts := memory.NewManager(func(o *memory.Options) {
		o.MaxItems = 2
		o.Compactor = stuck
	})

	inbox := &mockInbox{}
	inbox.On("Drain", "s1").Return([]core.Message{
		core.NewMessage("t1", "s1", core.TopicLecture, "one", 1),
		core.NewMessage("t1", "s1", core.TopicLecture, "two", 1),
		core.NewMessage("t1", "s1", core.TopicLecture, "three", 1),
	}).Once()
	failures := core.NewFailureCounters()
	rt := New(student("s1"), Deps{Inbox: inbox, Contexts: contexts, Failures: failures}, func(o *Options) {
		o.Strategy = emitting(core.TopicNote)
		o.Timeout = 50 * time.Millisecond
	})

	start := time.Now()
	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 2}}, &outbox{})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, res.TimedOut)
	assert.Equal(t, int64(1), failures.Count(core.FailureDecisionTimeout))

	_, summary := contexts.Snapshot("s1")
	assert.NotEqual(t, "late", summary)
	assert.Contains(t, summary, "one")
}

func TestRuntime_CommitsEffectsOnlyForAcceptedDecisions(t *testing.T) {
	var applied atomic.Int32
	effect := func() { applied.Add(1) }
	late := decision.Func(func(ctx context.Context, _ decision.Input) (decision.Output, error) {
		<-ctx.Done()
		return decision.Output{Effects: []func(){effect}}, nil
	})
	prompt := decision.Func(func(context.Context, decision.Input) (decision.Output, error) {
		return decision.Output{Effects: []func(){effect}}, nil
	})

	rt := New(student("s1"), Deps{}, func(o *Options) {
		o.Strategy = late
		o.Timeout = 20 * time.Millisecond
	})
	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 1}}, &outbox{})
	require.True(t, res.TimedOut)
	assert.Zero(t, applied.Load())

	rt = New(student("s1"), Deps{}, func(o *Options) { o.Strategy = prompt })
	res = rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 2}}, &outbox{})
	require.NoError(t, res.Err)
	assert.Equal(t, int32(1), applied.Load())
}

func TestRuntime_DecisionErrorUsesFallback(t *testing.T) {
	failures := core.NewFailureCounters()
	broken := decision.Func(func(context.Context, decision.Input) (decision.Output, error) {
		return decision.Output{}, errors.New("provider unavailable")
	})
	rt := New(student("s1"), Deps{Failures: failures}, func(o *Options) {
		o.Strategy = broken
		o.Fallback = emitting(core.TopicNote)
	})

	out := &outbox{}
	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 2}}, out)
	var de *core.DecisionError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, 1, res.Published)
	require.Len(t, out.msgs, 1)
	assert.Equal(t, core.TopicNote, out.msgs[0].Topic)
	assert.Equal(t, int64(1), failures.Count(core.FailureDecisionError))
}

func TestRuntime_PanicRestartsThenDisables(t *testing.T) {
	failures := core.NewFailureCounters()
	boom := decision.Func(func(context.Context, decision.Input) (decision.Output, error) { panic("boom") })
	rebuilt := 0
	rt := New(student("s1"), Deps{Failures: failures}, func(o *Options) {
		o.Strategy = boom
		o.MaxRestarts = 2
		o.NewStrategy = func(core.AgentProfile) (decision.Strategy, decision.Strategy) {
			rebuilt++
			return boom, nil
		}
	})

	for i := 1; i <= 3; i++ {
		out := &outbox{}
		res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: int64(i)}}, out)
		assert.True(t, res.Panicked)
		assert.Empty(t, out.msgs)
	}
	assert.Equal(t, 2, rebuilt)
	assert.Equal(t, 3, rt.Restarts())
	assert.True(t, rt.Disabled())
	assert.Equal(t, int64(3), failures.Count(core.FailureAgentPanic))

	res := rt.Step(context.Background(), Tick{Time: core.SimTime{Tick: 4}}, &outbox{})
	assert.True(t, res.Skipped)
}

func TestRuntime_KnowledgeChangesAreAttributed(t *testing.T) {
	tracker := knowledge.NewTracker(nil)
	tracker.Seed("s1", map[string]float64{"c1": 0.4})
	strategy := decision.Func(func(_ context.Context, in decision.Input) (decision.Output, error) {
		assert.InDelta(t, 0.4, in.Knowledge["c1"], 1e-9)
		return decision.Output{Knowledge: []knowledge.Change{{AgentID: "other", Topic: "c1", Delta: 0.1}}}, nil
	})
	rt := New(student("s1"), Deps{Knowledge: tracker}, func(o *Options) { o.Strategy = strategy })

	res := rt.Step(context.Background(), Tick{}, &outbox{})
	require.Len(t, res.Knowledge, 1)
	assert.Equal(t, "s1", res.Knowledge[0].AgentID)
}

func TestRunParallel_ResultsInJobOrder(t *testing.T) {
	delayed := func(d time.Duration) decision.Strategy {
		return decision.Func(func(ctx context.Context, in decision.Input) (decision.Output, error) {
			time.Sleep(d)
			return emitting(core.TopicNote).Decide(ctx, in)
		})
	}
	a := New(student("a"), Deps{}, func(o *Options) { o.Strategy = delayed(30 * time.Millisecond) })
	b := New(student("b"), Deps{}, func(o *Options) { o.Strategy = delayed(0) })
	outA, outB := &outbox{}, &outbox{}

	start := time.Now()
	results := RunParallel(context.Background(), []Job{
		{Runtime: a, Outbox: outA},
		{Runtime: b, Outbox: outB},
	})
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].AgentID)
	assert.Equal(t, "b", results[1].AgentID)
	assert.Len(t, outA.msgs, 1)
	assert.Len(t, outB.msgs, 1)
}

func TestEventItem(t *testing.T) {
	it := EventItem(core.SystemEvent{Type: core.EventReview, Tick: 9, Concepts: []string{"c1", "c2"}})
	assert.Equal(t, memory.DirectionEvent, it.Direction)
	assert.Equal(t, "review: concepts=c1,c2", it.Content)
	assert.Equal(t, int64(9), it.Tick)
}
