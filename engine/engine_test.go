package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/internal/testutil"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/scenario"
	"github.com/hupe1980/classmesh/session"
	"github.com/hupe1980/classmesh/store"
)

// scripts hands out one Scripted strategy per agent id.
type scripts struct {
	mu sync.Mutex
	m  map[string]*testutil.Scripted
}

func newScripts() *scripts { return &scripts{m: make(map[string]*testutil.Scripted)} }

func (s *scripts) For(id string) *testutil.Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.m[id]
	if !ok {
		sc = testutil.NewScripted()
		s.m[id] = sc
	}
	return sc
}

func (s *scripts) strategies(p core.AgentProfile) (decision.Strategy, decision.Strategy) {
	return s.For(p.ID), nil
}

func newEngine(t *testing.T, sc *scenario.Scenario, s *scripts, optFns ...func(o *Options)) *Engine {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) { o.Strategies = s.strategies }}, optFns...)
	eng, err := New(sc, fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func classroom() *testutil.ScenarioBuilder {
	return testutil.NewScenarioBuilder().
		Agents(testutil.Teacher("t1"), testutil.Student("s1"), testutil.Student("s2"))
}

func topics(msgs []core.Message) []core.Topic {
	out := make([]core.Topic, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Topic)
	}
	return out
}

func TestNew_RejectsInvalidScenario(t *testing.T) {
	sc := classroom().LectureTicks(0).Build()

	_, err := New(sc)

	var ce *core.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "class_controller.lecture_ticks", ce.Field)
}

func TestStep_LectureThenQuestionPhase(t *testing.T) {
	s := newScripts()
	s.For("t1").Always(testutil.Say("", core.TopicLecture, "today: fractions"))
	s.For("s1").Always(testutil.Say("", core.TopicQuestion, "why?"))
	sc := classroom().LectureTicks(4).ClassAt(1, "t1", "fractions").Build()
	eng := newEngine(t, sc, s)
	ctx := context.Background()

	for tick := int64(1); tick <= 4; tick++ {
		rep, err := eng.Step(ctx)
		require.NoError(t, err)
		assert.Equal(t, tick, rep.Tick)
		assert.Equal(t, core.PhaseLecture, eng.Sessions().Phase(testutil.Group).Phase)

		teacher := rep.MessagesFrom("t1")
		require.Len(t, teacher, 1)
		assert.Equal(t, core.TopicLecture, teacher[0].Topic)
		// Questions are not allowed during the lecture.
		assert.Equal(t, []core.Topic{core.TopicNoise}, topics(rep.MessagesFrom("s1")))
		assert.Empty(t, rep.MessagesFrom("s2"))
	}

	rep, err := eng.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseQuestion, eng.Sessions().Phase(testutil.Group).Phase)
	assert.Equal(t, []core.Topic{core.TopicQuestion}, topics(rep.MessagesFrom("s1")))
	assert.Equal(t, []core.Topic{core.TopicNoise}, topics(rep.MessagesFrom("t1")))

	var types []core.EventType
	for _, ev := range rep.Events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, core.EventPhaseQuestions)
}

func TestStep_MessagesBecomeVisibleNextTick(t *testing.T) {
	s := newScripts()
	s.For("s1").At(1, testutil.Say("s2", core.TopicNote, "psst"))
	eng := newEngine(t, classroom().Build(), s)
	ctx := context.Background()

	_, err := eng.Step(ctx)
	require.NoError(t, err)
	calls := s.For("s2").Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Inbox)

	_, err = eng.Step(ctx)
	require.NoError(t, err)
	calls = s.For("s2").Calls()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].Inbox, 1)
	assert.Equal(t, "psst", calls[1].Inbox[0].Content)
	assert.Equal(t, int64(1), calls[1].Inbox[0].Tick)
}

func TestStep_TimedOutAgentContributesNothing(t *testing.T) {
	s := newScripts()
	s.For("t1").Always(testutil.Say("", core.TopicNote, "homework"))
	s.For("s1").Always(testutil.Say("t1", core.TopicThanks, "thanks"))
	slow := testutil.Say("t1", core.TopicThanks, "late")
	slow.Delay = time.Second
	s.For("s2").Always(slow)
	sc := classroom().Edit(func(sc *scenario.Scenario) {
		sc.Runtime.DecisionTimeout = 30 * time.Millisecond
	}).Build()
	eng := newEngine(t, sc, s)

	rep, err := eng.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"s2"}, rep.TimedOut())
	assert.Len(t, rep.MessagesFrom("t1"), 1)
	assert.Len(t, rep.MessagesFrom("s1"), 1)
	assert.Empty(t, rep.MessagesFrom("s2"))
	assert.Equal(t, int64(1), eng.Failures().Count(core.FailureDecisionTimeout))
	assert.Equal(t, int64(1), eng.Tick())
}

func TestStep_PersistsMessagesAndTick(t *testing.T) {
	st := store.NewInMemoryStore()
	s := newScripts()
	s.For("s1").Always(testutil.Say("t1", core.TopicNote, "done"))
	eng := newEngine(t, classroom().Build(), s, func(o *Options) { o.Store = st })
	ctx := context.Background()

	for range 3 {
		_, err := eng.Step(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, eng.Flush(ctx))

	assert.Len(t, st.Messages(), 3)
	last, err := st.LastTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
	assert.NotEmpty(t, st.WorldEvents())
}

func TestStep_ResumesFromLastTick(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()

	first, err := New(classroom().Build(), func(o *Options) {
		o.Store = st
		o.Strategies = newScripts().strategies
	})
	require.NoError(t, err)
	for range 2 {
		_, err := first.Step(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, first.Flush(ctx))

	second := newEngine(t, classroom().Build(), newScripts(), func(o *Options) { o.Store = st })
	rep, err := second.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.Tick)
}

func TestStep_BeforeTickCallbackRejectsTick(t *testing.T) {
	cbs := NewCallbackManager()
	veto := errors.New("not now")
	cbs.RegisterCallback(NewFunctionCallback(CallbackBeforeTick, func(_ context.Context, cc *CallbackContext) error {
		if cc.Tick == 2 {
			return veto
		}
		return nil
	}))
	var committed []int64
	cbs.RegisterCallback(NewFunctionCallback(CallbackAfterCommit, func(_ context.Context, cc *CallbackContext) error {
		committed = append(committed, cc.Tick)
		return nil
	}))
	eng := newEngine(t, classroom().Build(), newScripts(), func(o *Options) { o.Callbacks = cbs })
	ctx := context.Background()

	_, err := eng.Step(ctx)
	require.NoError(t, err)
	_, err = eng.Step(ctx)
	require.ErrorIs(t, err, veto)

	assert.Equal(t, int64(1), eng.Tick())
	assert.Equal(t, []int64{1}, committed)
}

func TestStep_AgentErrorCallback(t *testing.T) {
	cbs := NewCallbackManager()
	var failed []string
	cbs.RegisterCallback(NewFunctionCallback(CallbackOnAgentError, func(_ context.Context, cc *CallbackContext) error {
		failed = append(failed, cc.AgentID)
		return nil
	}))
	s := newScripts()
	s.For("s2").Always(testutil.Step{Err: errors.New("confused")})
	eng := newEngine(t, classroom().Build(), s, func(o *Options) { o.Callbacks = cbs })

	_, err := eng.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, failed)
	assert.Equal(t, int64(1), eng.Failures().Count(core.FailureDecisionError))
}

func TestRun_PauseResumeStop(t *testing.T) {
	sc := classroom().Edit(func(sc *scenario.Scenario) {
		sc.Runtime.TickInterval = 5 * time.Millisecond
	}).Build()
	eng := newEngine(t, sc, newScripts())

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(context.Background(), 0) }()

	require.Eventually(t, func() bool { return eng.Tick() >= 2 }, time.Second, time.Millisecond)
	_, err := eng.Step(context.Background())
	require.ErrorIs(t, err, core.ErrAlreadyRunning)

	require.NoError(t, eng.Pause())
	assert.Equal(t, StatePaused, eng.State())
	time.Sleep(30 * time.Millisecond)
	paused := eng.Tick()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, paused, eng.Tick())

	require.NoError(t, eng.Resume())
	require.Eventually(t, func() bool { return eng.Tick() > paused }, time.Second, time.Millisecond)

	require.NoError(t, eng.Stop())
	require.NoError(t, <-runErr)
	assert.Equal(t, StateStopped, eng.State())
	assert.ErrorIs(t, eng.Stop(), core.ErrNotRunning)
}

func TestRun_StopsAfterTicks(t *testing.T) {
	eng := newEngine(t, classroom().Build(), newScripts())

	require.NoError(t, eng.Run(context.Background(), 3))
	assert.Equal(t, int64(3), eng.Tick())
	assert.Equal(t, StateIdle, eng.State())
}

func TestReload_RejectsInvalidScenario(t *testing.T) {
	eng := newEngine(t, classroom().LectureTicks(2).Build(), newScripts())

	bad := classroom().Edit(func(sc *scenario.Scenario) {
		sc.ClassController.SummaryTicks = 0
	}).Build()
	var ce *core.ConfigError
	require.ErrorAs(t, eng.Reload(bad), &ce)
	assert.Equal(t, 2, eng.Scenario().ClassController.LectureTicks)

	good := classroom().LectureTicks(5).Build()
	require.NoError(t, eng.Reload(good))
	assert.Equal(t, 5, eng.Scenario().ClassController.LectureTicks)
}

func TestRoster_AddAndRemoveAgent(t *testing.T) {
	s := newScripts()
	s.For("s1").Always(testutil.Say("t1", core.TopicNote, "s1"))
	s.For("s3").Always(testutil.Say("t1", core.TopicNote, "s3"))
	eng := newEngine(t, classroom().Build(), s)
	ctx := context.Background()

	_, err := eng.Step(ctx)
	require.NoError(t, err)

	require.NoError(t, eng.AddAgent(ctx, testutil.Student("s3")))
	require.ErrorIs(t, eng.AddAgent(ctx, testutil.Student("s3")), core.ErrDuplicateAgent)
	require.NoError(t, eng.RemoveAgent("s1"))
	require.ErrorIs(t, eng.RemoveAgent("s1"), core.ErrUnknownAgent)

	rep, err := eng.Step(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.MessagesFrom("s3"), 1)
	assert.Empty(t, rep.MessagesFrom("s1"))
	assert.False(t, eng.Registry().Exists("s1"))
	_, ok := eng.Runtime("s1")
	assert.False(t, ok)
}

func TestRoster_UpdateAgent(t *testing.T) {
	eng := newEngine(t, classroom().Build(), newScripts())

	p := testutil.Student("s2")
	p.Name = "Mia"
	require.NoError(t, eng.UpdateAgent(p))
	got, ok := eng.Registry().Get("s2")
	require.True(t, ok)
	assert.Equal(t, "Mia", got.Name)

	require.ErrorIs(t, eng.UpdateAgent(testutil.Student("nobody")), core.ErrUnknownAgent)
}

func TestReceives(t *testing.T) {
	teacher := testutil.Teacher("t1")
	other := testutil.Teacher("t2")
	student := testutil.Student("s1")
	outsider := core.AgentProfile{ID: "x1", Role: core.RoleStudent, Group: "8b"}

	tests := []struct {
		name string
		ev   core.SystemEvent
		want map[string]bool
	}{
		{
			name: "lecture goes to the leading teacher",
			ev:   core.SystemEvent{Type: core.EventPhaseLecture, Group: testutil.Group, TeacherID: "t1"},
			want: map[string]bool{"t1": true, "t2": false, "s1": false, "x1": false},
		},
		{
			name: "questions go to the group's students",
			ev:   core.SystemEvent{Type: core.EventPhaseQuestions, Group: testutil.Group, TeacherID: "t1"},
			want: map[string]bool{"t1": false, "t2": false, "s1": true, "x1": false},
		},
		{
			name: "class session reaches group and teacher",
			ev:   core.SystemEvent{Type: core.EventClassSession, Group: "8b", TeacherID: "t1"},
			want: map[string]bool{"t1": true, "t2": false, "s1": false, "x1": true},
		},
		{
			name: "announcements to all",
			ev:   core.SystemEvent{Type: core.EventAnnouncement, Group: core.GroupAll},
			want: map[string]bool{"t1": true, "t2": true, "s1": true, "x1": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range []core.AgentProfile{teacher, other, student, outsider} {
				assert.Equal(t, tt.want[p.ID], receives(tt.ev, p), p.ID)
			}
		})
	}
}

func TestStep_QuizLoopClosesAfterSummary(t *testing.T) {
	for _, seed := range []int64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			b := testutil.NewScenarioBuilder().Seed(seed).Agents(testutil.Teacher("t1"))
			for i := 1; i <= 8; i++ {
				p := testutil.Student(fmt.Sprintf("s%d", i))
				p.Persona.Engagement, p.Persona.Confidence = 1, 1
				b.Agents(p)
			}
			sc := b.Event(core.SystemEvent{
				Type: core.EventClassSession, Tick: 1, Group: testutil.Group,
				TeacherID: "t1", Topic: "fractions", Concepts: []string{"c1"},
			}).Edit(func(sc *scenario.Scenario) {
				sc.ClassController = session.Config{LectureTicks: 1, QuestionTicks: 1, GroupTicks: 1, SummaryTicks: 1}
				sc.Behavior.Student.QuizAnswerProb = 1
			}).Build()

			eng, err := New(sc)
			require.NoError(t, err)
			t.Cleanup(func() { _ = eng.Close() })

			counts := map[core.Topic]int{}
			learned := map[string]bool{}
			for range 7 {
				rep, err := eng.Step(context.Background())
				require.NoError(t, err)
				for _, m := range rep.Messages {
					counts[m.Topic]++
					if m.Topic == core.TopicNoise {
						assert.NotContains(t, m.Content, "score=", "tick %d: %s downgraded", rep.Tick, m.SenderID)
					}
				}
				for _, rec := range rep.Knowledge {
					if rec.Source == knowledge.SourceQuiz {
						learned[rec.AgentID] = true
					}
				}
			}

			// The quiz goes out at tick 4 (summary); answers, grades and
			// feedback arrive once the next cycle has started.
			assert.Equal(t, core.PhaseGroup, eng.Sessions().Phase(testutil.Group).Phase)
			assert.Equal(t, 8, counts[core.TopicQuiz])
			require.Positive(t, counts[core.TopicQuizAnswer])
			assert.Equal(t, counts[core.TopicQuizAnswer], counts[core.TopicQuizScore])
			assert.Len(t, learned, counts[core.TopicQuizScore])
			assert.GreaterOrEqual(t, counts[core.TopicFeedback], 8)
		})
	}
}
