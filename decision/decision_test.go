package decision

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/model"
	"github.com/hupe1980/classmesh/schedule"
	"github.com/hupe1980/classmesh/tool"
)

var (
	_ Strategy  = (*Rules)(nil)
	_ Strategy  = Timed{}
	_ Strategy  = Func(nil)
	_ Behavior  = (*TeacherBehavior)(nil)
	_ Behavior  = (*StudentBehavior)(nil)
	_ Composer  = (*ModelComposer)(nil)
	_ Directory = (*core.Registry)(nil)
)

type fakeSeating struct {
	visible map[string]bool
	rows    map[int][]string
}

func (f fakeSeating) Visible(id string) bool       { return f.visible[id] }
func (f fakeSeating) StudentsInRow(r int) []string { return f.rows[r] }

type fakeToolEnv struct{}

func (fakeToolEnv) SimTime() core.SimTime {
	return core.SimTime{Weekday: "Mon", Date: "2025-09-01", ClockTime: "12:00", WeekIndex: 1, WeekType: "A", WeekMode: core.WeekTeaching}
}
func (fakeToolEnv) Timetable(string) []core.TimetableEntry { return nil }
func (fakeToolEnv) RecentMemory(string, int) []string      { return nil }

func classroom(t *testing.T) *core.Registry {
	t.Helper()
	reg := core.NewRegistry()
	require.NoError(t, reg.Add(core.AgentProfile{ID: "t1", Name: "Ms. Lee", Role: core.RoleTeacher, Group: "7a", Persona: core.DefaultPersona()}))
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, reg.Add(core.AgentProfile{ID: id, Name: strings.ToUpper(id), Role: core.RoleStudent, Group: "7a", Persona: core.DefaultPersona()}))
	}
	return reg
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Teacher.ColdCallProb = 0
	cfg.Teacher.OverheardBroadcastProb = 0
	return cfg
}

func inputFor(reg *core.Registry, id string, tick int64) Input {
	p, _ := reg.Get(id)
	return Input{
		Profile:   p,
		Time:      core.SimTime{Tick: tick},
		Knowledge: map[string]float64{},
		Rand:      rand.New(rand.NewSource(7)),
	}
}

func TestContentFields(t *testing.T) {
	assert.Equal(t, "[math] hello", PrefixTopic("math", "hello"))
	assert.Equal(t, "[x] hello", PrefixTopic("math", "[x] hello"))

	topic, ok := ExtractTopic("[fractions] today we add")
	require.True(t, ok)
	assert.Equal(t, "fractions", topic)

	topic, ok = ExtractTopic("my answer topic=c1")
	require.True(t, ok)
	assert.Equal(t, "c1", topic)

	row, ok := IntField("suspect_row=2;suspicion=0.70;noise=detected", "suspect_row")
	require.True(t, ok)
	assert.Equal(t, 2, row)
	_, ok = Field("suspect_row=2", "row")
	assert.False(t, ok)

	score, ok := FloatField("topic=c1;course=math;score=0.42;feedback=ok", "score")
	require.True(t, ok)
	assert.InDelta(t, 0.42, score, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Student.NoiseProb = 1.5
	var ce *core.ConfigError
	require.ErrorAs(t, cfg.Validate(), &ce)
	assert.Equal(t, "behavior.student.noise_prob", ce.Field)

	cfg = DefaultConfig()
	cfg.Teacher.QuizConcepts = 0
	require.ErrorAs(t, cfg.Validate(), &ce)
}

func TestStudent_LectureAlwaysAcknowledged(t *testing.T) {
	reg := classroom(t)
	r := NewRules(NewStudentBehavior(), Env{Directory: reg, Config: DefaultConfig()})
	in := inputFor(reg, "s1", 5)
	in.Inbox = []core.Message{core.NewMessage("t1", "s1", core.TopicLecture, "[fractions] adding fractions", 4)}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, out.Messages)
	ack := out.Messages[0]
	assert.Equal(t, core.TopicAck, ack.Topic)
	assert.Equal(t, "t1", ack.ReceiverID)
	assert.Equal(t, "s1", ack.SenderID)
	assert.Equal(t, int64(5), ack.Tick)
	assert.Contains(t, ack.Content, "fractions")
	for _, m := range out.Messages {
		assert.Equal(t, "t1", m.ReceiverID)
	}
}

func TestStudent_QuizScoreUpdatesKnowledge(t *testing.T) {
	reg := classroom(t)
	r := NewRules(NewStudentBehavior(), Env{Directory: reg, Config: DefaultConfig()})
	in := inputFor(reg, "s1", 9)
	in.Knowledge["c1"] = 0.3
	score := core.NewMessage("t1", "s1", core.TopicQuizScore, "topic=c1;course=math;score=0.20;feedback=revisit", 8)
	in.Inbox = []core.Message{score}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Knowledge, 1)
	change := out.Knowledge[0]
	assert.Equal(t, "c1", change.Topic)
	assert.Equal(t, knowledge.SourceQuiz, change.Source)
	assert.Equal(t, score.ID, change.CauseID)
	assert.InDelta(t, knowledge.QuizDelta(0.3, 0.2), change.Delta, 1e-9)

	require.Len(t, out.Messages, 1)
	assert.Equal(t, core.TopicFeedback, out.Messages[0].Topic)
	assert.Equal(t, "topic=c1;level=low;score=0.24", out.Messages[0].Content)
}

func TestStudent_ReviewAndRoutine(t *testing.T) {
	reg := classroom(t)
	student := NewStudentBehavior()
	r := NewRules(student, Env{Directory: reg, Config: DefaultConfig()})
	in := inputFor(reg, "s2", 30)
	in.Events = []core.SystemEvent{
		{Type: core.EventAnnouncement, Action: schedule.ActionWake},
		{Type: core.EventReview, Concepts: []string{"c1", "c2"}, Intensity: schedule.HomeReviewIntensity},
	}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
	require.Len(t, out.Knowledge, 2)
	for _, c := range out.Knowledge {
		assert.Equal(t, knowledge.SourceReview, c.Source)
		assert.Greater(t, c.Delta, 0.0)
	}
	assert.InDelta(t, DefaultMood().Energy, student.Mood().Energy, 1e-9)
	out.Commit()
	assert.InDelta(t, 0.8, student.Mood().Energy, 1e-9)
}

func TestTeacher_LectureReachesEveryStudent(t *testing.T) {
	reg := classroom(t)
	r := NewRules(NewTeacherBehavior(), Env{Directory: reg, Config: quietConfig()})
	in := inputFor(reg, "t1", 20)
	in.Events = []core.SystemEvent{{
		Type: core.EventPhaseLecture, Group: "7a", Topic: "math",
		LessonPlan: "Fractions", Concepts: []string{"c1", "c2"},
	}}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	for i, id := range []string{"s1", "s2", "s3"} {
		assert.Equal(t, id, out.Messages[i].ReceiverID)
		assert.Equal(t, core.TopicLecture, out.Messages[i].Topic)
		assert.True(t, strings.HasPrefix(out.Messages[i].Content, "[math]"))
		assert.Contains(t, out.Messages[i].Content, "c1, c2")
	}
}

func TestTeacher_GradesQuizAnswers(t *testing.T) {
	reg := classroom(t)
	teacher := NewTeacherBehavior()
	r := NewRules(teacher, Env{Directory: reg, Config: quietConfig()})
	in := inputFor(reg, "t1", 40)
	in.Inbox = []core.Message{core.NewMessage("s1", "t1", core.TopicQuizAnswer, "c1 is about equal parts of a whole topic=c1", 39)}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	reply := out.Messages[0]
	assert.Equal(t, core.TopicQuizScore, reply.Topic)
	assert.Equal(t, "s1", reply.ReceiverID)
	topic, _ := Field(reply.Content, "topic")
	assert.Equal(t, "c1", topic)
	score, ok := FloatField(reply.Content, "score")
	require.True(t, ok)
	out.Commit()
	avg, graded := teacher.Assessment("c1")
	require.True(t, graded)
	assert.InDelta(t, score, avg, 0.01)
}

func TestTeacher_FeedbackAdaptsStrategy(t *testing.T) {
	reg := classroom(t)
	teacher := NewTeacherBehavior()
	r := NewRules(teacher, Env{Directory: reg, Config: quietConfig()})
	in := inputFor(reg, "t1", 50)
	in.Inbox = []core.Message{
		core.NewMessage("s1", "t1", core.TopicFeedback, "topic=math;level=low;score=0.30", 49),
		core.NewMessage("s2", "t1", core.TopicFeedback, "topic=math;level=low;score=0.40", 49),
	}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
	out.Commit()
	s := teacher.Strategy("math")
	assert.Equal(t, ModeBasic, s.Mode)
	assert.Equal(t, "slow", s.Pace)
	assert.Equal(t, 3, s.Examples)
	assert.Equal(t, ModeNormal, teacher.Strategy("art").Mode)
}

func TestTeacher_UncommittedDecisionLeavesStateUntouched(t *testing.T) {
	reg := classroom(t)
	teacher := NewTeacherBehavior()
	r := NewRules(teacher, Env{Directory: reg, Config: quietConfig()})
	in := inputFor(reg, "t1", 70)
	in.Inbox = []core.Message{
		core.NewMessage("s1", "t1", core.TopicFeedback, "topic=math;level=low;score=0.10", 69),
		core.NewMessage("s2", "t1", core.TopicQuizAnswer, "equal parts topic=c1", 69),
	}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Len(t, out.Effects, 2)

	_, graded := teacher.Assessment("c1")
	assert.False(t, graded)
	assert.Equal(t, ModeNormal, teacher.Strategy("math").Mode)
}

func TestTeacher_MaskedNoiseColdCallsSuspectRow(t *testing.T) {
	reg := classroom(t)
	cfg := quietConfig()
	cfg.Teacher.RowColdCallProb = 1
	teacher := NewTeacherBehavior()
	r := NewRules(teacher, Env{Directory: reg, Seating: fakeSeating{rows: map[int][]string{1: {"s2"}}}, Config: cfg})
	in := inputFor(reg, "t1", 60)
	masked := core.NewMessage(core.UnknownSender, "t1", core.TopicNoise, "suspect_row=1;suspicion=0.70;noise=detected", 59)
	in.Inbox = []core.Message{masked}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, core.TopicColdCall, out.Messages[0].Topic)
	assert.Equal(t, "s2", out.Messages[0].ReceiverID)
	out.Commit()
	assert.InDelta(t, 0.7, teacher.Suspicion(1), 1e-9)
}

func TestTeacher_VisibleNoiseIsDisciplined(t *testing.T) {
	reg := classroom(t)
	r := NewRules(NewTeacherBehavior(), Env{Directory: reg, Seating: fakeSeating{visible: map[string]bool{"s3": true}}, Config: quietConfig()})
	in := inputFor(reg, "t1", 61)
	in.Inbox = []core.Message{core.NewMessage("s3", "t1", core.TopicNoise, "S3 whispers", 60)}

	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, core.TopicDiscipline, out.Messages[0].Topic)
	assert.Equal(t, "s3", out.Messages[0].ReceiverID)
}

func TestModelComposer_WritesLectureText(t *testing.T) {
	reg := classroom(t)
	llm := model.NewMockModel("mock", "mock")
	llm.QueueText("Today we add fractions with equal denominators.")
	r := NewLLM(NewTeacherBehavior(), Env{Directory: reg, Config: quietConfig()}, NewModelComposer(llm))
	assert.Equal(t, "llm", r.Name())

	in := inputFor(reg, "t1", 20)
	in.Events = []core.SystemEvent{{Type: core.EventPhaseLecture, Group: "7a", Topic: "math"}}
	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "[math] Today we add fractions with equal denominators.", out.Messages[0].Content)
	assert.Empty(t, out.Errors)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "Ms. Lee")
	assert.Contains(t, reqs[0].Messages[0].Content, "task: Teach with a balanced explanation")
}

func TestModelComposer_AllowedToolCall(t *testing.T) {
	reg := classroom(t)
	p, _ := reg.Get("t1")
	p.Decision.ToolAllowlist = []string{tool.NameGetTime}
	require.NoError(t, reg.Update(p))

	llm := model.NewMockModel("mock", "mock")
	llm.QueueToolCall("call-1", tool.NameGetTime, "{}")
	llm.QueueText("It is Monday noon, let's begin.")
	composer := NewModelComposer(llm, func(o *ModelComposerOptions) { o.Env = fakeToolEnv{} })
	r := NewLLM(NewTeacherBehavior(), Env{Directory: reg, Config: quietConfig()}, composer)

	in := inputFor(reg, "t1", 20)
	in.Events = []core.SystemEvent{{Type: core.EventPhaseLecture, Group: "7a", Topic: "math"}}
	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Errors)
	assert.Equal(t, "[math] It is Monday noon, let's begin.", out.Messages[0].Content)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, "2025-09-01")
}

func TestModelComposer_DisallowedToolFallsBack(t *testing.T) {
	reg := classroom(t)
	llm := model.NewMockModel("mock", "mock")
	llm.QueueToolCall("call-1", tool.NameGetSchedule, `{"group":"7a"}`)
	r := NewLLM(NewTeacherBehavior(), Env{Directory: reg, Config: quietConfig()}, NewModelComposer(llm))

	in := inputFor(reg, "t1", 20)
	in.Events = []core.SystemEvent{{Type: core.EventPhaseLecture, Group: "7a", Topic: "math", Concepts: []string{"c1"}}}
	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, "[math] concepts: c1", out.Messages[0].Content)

	require.Len(t, out.Errors, 1)
	var de *core.DecisionError
	require.ErrorAs(t, out.Errors[0], &de)
	assert.Equal(t, "t1", de.AgentID)
	kind, ok := core.ClassifyFailure(out.Errors[0])
	require.True(t, ok)
	assert.Equal(t, core.FailureDecisionError, kind)
	assert.Equal(t, 1, llm.Calls())
}

func TestModelComposer_BudgetExhaustedIsSilent(t *testing.T) {
	reg := classroom(t)
	llm := model.NewMockModel("mock", "mock")
	limiter := core.NewModelLimiter(1)
	require.True(t, limiter.TryAcquire())
	composer := NewModelComposer(llm, func(o *ModelComposerOptions) { o.Limiter = limiter })
	r := NewLLM(NewStudentBehavior(), Env{Directory: reg, Config: DefaultConfig()}, composer)

	in := inputFor(reg, "s1", 3)
	in.Inbox = []core.Message{core.NewMessage("t1", "s1", core.TopicAnswer, "start from the basics", 2)}
	out, err := r.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "S1 thanks the teacher for the explanation.", out.Messages[0].Content)
	assert.Empty(t, out.Errors)
	assert.Zero(t, llm.Calls())
}

func TestTimed_DeadlineYieldsTimeoutError(t *testing.T) {
	slow := Func(func(ctx context.Context, in Input) (Output, error) {
		select {
		case <-ctx.Done():
			return Output{}, ctx.Err()
		case <-time.After(time.Second):
			return Output{Messages: []core.Message{core.NewMessage(in.Profile.ID, "", core.TopicNote, "late", in.Time.Tick)}}, nil
		}
	})
	timed := Timed{Strategy: slow, Timeout: 20 * time.Millisecond}

	start := time.Now()
	out, err := timed.Decide(context.Background(), Input{Profile: core.AgentProfile{ID: "s1"}, Time: core.SimTime{Tick: 4}})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, out.Messages)

	var te *core.DecisionTimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "s1", te.AgentID)
	assert.Equal(t, int64(4), te.Tick)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestTimed_ExpiredDeadlineSkipsStrategy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	called := false
	fast := Func(func(context.Context, Input) (Output, error) {
		called = true
		return Output{}, nil
	})
	_, err := Timed{Strategy: fast, Timeout: time.Second}.Decide(ctx, Input{Profile: core.AgentProfile{ID: "s1"}})

	var te *core.DecisionTimeoutError
	require.ErrorAs(t, err, &te)
	assert.False(t, called)
}

func TestTimed_RecoversPanics(t *testing.T) {
	boom := Func(func(context.Context, Input) (Output, error) { panic("boom") })
	_, err := Timed{Strategy: boom, Timeout: time.Second}.Decide(context.Background(), Input{Profile: core.AgentProfile{ID: "s1"}})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestTimed_PassesThroughFastResults(t *testing.T) {
	reg := classroom(t)
	timed := Timed{Strategy: NewRules(NewStudentBehavior(), Env{Directory: reg, Config: DefaultConfig()}), Timeout: time.Second}
	in := inputFor(reg, "s1", 1)
	in.Inbox = []core.Message{core.NewMessage("t1", "s1", core.TopicColdCall, "recap please", 0)}

	out, err := timed.Decide(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, core.TopicAnswer, out.Messages[0].Topic)
	assert.Equal(t, "rule", timed.Name())
}
