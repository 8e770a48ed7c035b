package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/classmesh/agent"
	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/scenario"
	"github.com/hupe1980/classmesh/schedule"
	"github.com/hupe1980/classmesh/world"
)

type tickLogger interface {
	LogTickCommitted(tick int64, messages, timeouts int, dur time.Duration)
}

// step runs and commits one tick.
func (e *Engine) step(ctx context.Context) (TickReport, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	if err := e.init(ctx); err != nil {
		return TickReport{}, fmt.Errorf("restore simulation state: %w", err)
	}
	start := time.Now()
	sc := e.currentScenario()
	tick := e.tick.Load() + 1
	st := clock.TickToTime(tick, sc.Calendar)
	report := TickReport{Tick: tick, Time: st}

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeTick, &CallbackContext{Tick: tick, Time: st}); err != nil {
		return report, fmt.Errorf("tick %d rejected: %w", tick, err)
	}
	e.current.Store(tick)
	report.Events = e.schedule(ctx, sc, st)

	runtimes := e.roster()
	jobs := make([]agent.Job, len(runtimes))
	batches := make([]*bus.Batch, len(runtimes))
	for i, rt := range runtimes {
		batches[i] = e.bus.NewBatch()
		jobs[i] = agent.Job{
			Runtime: rt,
			Tick:    agent.Tick{Time: st, Events: eventsFor(report.Events, rt.Profile())},
			Outbox:  batches[i],
		}
	}
	report.Results = agent.RunParallel(ctx, jobs)

	e.commit(ctx, &report, batches)
	report.Duration = time.Since(start)

	if tl, ok := e.logger.(tickLogger); ok {
		tl.LogTickCommitted(tick, len(report.Messages), len(report.TimedOut()), report.Duration)
	} else {
		e.logger.Info("engine.tick.committed", "tick", tick, "messages", len(report.Messages), "timeouts", len(report.TimedOut()), "duration", report.Duration)
	}
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackAfterCommit, &CallbackContext{
		Tick: tick, Time: st, Events: report.Events, Messages: report.Messages,
	}); err != nil {
		e.logger.Warn("engine.callback.failed", "type", string(CallbackAfterCommit), "error", err.Error())
	}
	return report, nil
}

// commit publishes the staged outboxes in roster order, then persists the
// messages before the knowledge changes they caused, then the tick.
func (e *Engine) commit(ctx context.Context, report *TickReport, batches []*bus.Batch) {
	tick := report.Tick
	// All writes of the tick share one enqueue budget. A cancelled tick still
	// commits, so the budget does not inherit cancellation.
	wctx := context.WithoutCancel(ctx)
	if d := e.currentScenario().Runtime.WriteTimeout; d > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, d)
		defer cancel()
	}

	report.Messages = e.bus.Flush(batches...)
	for _, m := range report.Messages {
		e.persist("append_message", e.writer.AppendMessage(wctx, m))
	}

	for i := range report.Results {
		res := &report.Results[i]
		for _, ch := range res.Knowledge {
			if !e.registry.Exists(ch.AgentID) {
				continue
			}
			rec := e.tracker.Apply(ch, tick)
			report.Knowledge = append(report.Knowledge, rec)
			e.persist("append_knowledge", e.writer.AppendKnowledge(wctx, rec))
		}
		if res.Err != nil || res.Panicked {
			if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackOnAgentError, &CallbackContext{
				Tick: tick, Time: report.Time, AgentID: res.AgentID, Result: res,
			}); err != nil {
				e.logger.Warn("engine.callback.failed", "type", string(CallbackOnAgentError), "error", err.Error())
			}
		}
	}

	for _, ev := range e.bus.Log(bus.LogFilter{AfterSeq: e.persistedSeq}) {
		e.persist("append_world_event", e.writer.AppendWorldEvent(wctx, ev))
		e.persistedSeq = ev.Seq
	}
	e.bus.MarkPersisted(e.persistedSeq)
	e.persist("set_last_tick", e.writer.SetLastTick(wctx, tick))
	e.tick.Store(tick)
}

// schedule collects the events of the tick and applies their side effects:
// knowledge decay on a new day, scene moves and session starts. Phase
// transitions of running sessions come last.
func (e *Engine) schedule(ctx context.Context, sc *scenario.Scenario, st core.SimTime) []core.SystemEvent {
	phases := e.sessions.Advance(st.Tick)

	scheduled := e.generator.EventsFor(st)
	for _, ev := range sc.EventsAt(st.Tick) {
		ev.Tick = st.Tick
		scheduled = append(scheduled, schedule.Event{
			SystemEvent: ev,
			Entry:       core.TimetableEntry{Group: ev.Group, TeacherID: ev.TeacherID, Topic: ev.Topic, CourseID: ev.CourseID},
		})
	}

	var events []core.SystemEvent
	for _, ev := range scheduled {
		switch ev.Type {
		case core.EventDayTransition:
			for _, rec := range e.tracker.AdvanceDay(st.DayIndex, st.Tick) {
				e.persist("append_knowledge", e.writer.AppendKnowledge(ctx, rec))
			}
			events = append(events, ev.SystemEvent)
		case core.EventAnnouncement:
			events = append(events, ev.SystemEvent)
			if scene, ok := schedule.SceneFor(ev.Action); ok {
				e.moveAll(st.Tick, e.registry.IDs(), scene)
			}
		case core.EventClassSession:
			if ev.LessonID == "" && ev.CourseID != "" {
				if plan, ok := e.Curriculum().NextLesson(ev.CourseID); ok {
					ev.LessonID = plan.LessonID
					ev.LessonPlan = plan.Summary()
					ev.Concepts = plan.ConceptIDs()
				}
			}
			events = append(events, ev.SystemEvent, e.startSession(st.Tick, ev))
		default:
			events = append(events, ev.SystemEvent)
		}
	}
	return append(events, phases...)
}

// startSession starts the group's class, gathers its members in the
// classroom and picks the row the teacher watches first.
func (e *Engine) startSession(tick int64, ev schedule.Event) core.SystemEvent {
	members := e.registry.GroupMembers(ev.Group, "")
	if ev.TeacherID != "" && e.registry.Exists(ev.TeacherID) {
		members = append(members, ev.TeacherID)
	}
	e.moveAll(tick, members, world.SceneClassroom)
	if rows := e.world.Rows(); rows > 0 {
		e.world.SetPatrolRow(e.rng.Intn(rows))
	}
	return e.sessions.Start(ev.SystemEvent, ev.Entry, ev.EndTick)
}

func (e *Engine) moveAll(tick int64, ids []string, scene string) {
	moved := e.world.MoveAll(ids, scene)
	if len(moved) == 0 {
		return
	}
	e.bus.Record(core.WorldEvent{
		Tick:   tick,
		Kind:   core.WorldEventSceneChange,
		Detail: scene + ": " + strings.Join(moved, ","),
	})
	e.logger.Debug("engine.scene.changed", "scene", scene, "agents", len(moved), "tick", tick)
}

// eventsFor selects the events p is told about.
func eventsFor(events []core.SystemEvent, p core.AgentProfile) []core.SystemEvent {
	var out []core.SystemEvent
	for _, ev := range events {
		if receives(ev, p) {
			out = append(out, ev)
		}
	}
	return out
}

// receives routes an event: teacher-led phases and tests go to the leading
// teacher, student activities to the group's students, everything else to
// the addressed group.
func receives(ev core.SystemEvent, p core.AgentProfile) bool {
	inGroup := ev.Group == "" || ev.Group == core.GroupAll || ev.Group == p.Group
	switch ev.Type {
	case core.EventPhaseLecture, core.EventPhaseSummary, core.EventDailyTest:
		if p.Role != core.RoleTeacher {
			return false
		}
		if ev.TeacherID != "" {
			return ev.TeacherID == p.ID
		}
		return inGroup
	case core.EventPhaseQuestions, core.EventGroupDiscussion, core.EventReview:
		return p.Role == core.RoleStudent && inGroup
	case core.EventClassSession:
		return inGroup || ev.TeacherID == p.ID
	default:
		return inGroup
	}
}

func (e *Engine) persist(op string, err error) {
	if err != nil {
		e.logger.Warn("store.write.rejected", "op", op, "error", err.Error())
	}
}

func (e *Engine) deadLetter(dl core.DeadLetter) {
	e.persist("append_dead_letter", e.writer.AppendDeadLetter(context.Background(), dl))
}
