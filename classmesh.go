// Package classmesh provides a high-level façade over the simulation engine
// and its query surface. Most applications interact with this package by:
//  1. Loading a scenario (scenario.Load or scenario.Default)
//  2. Creating a Simulation via New(), optionally with a durable store, a
//     language model and a structured logger
//  3. Running it in the foreground (Run) or background (Start) and querying
//     its state while it runs
//
// The façade delegates orchestration to engine.Engine. All defaults are safe
// for local development and testing: an in-memory store, rule-based agents
// and a NoOp logger.
package classmesh

import (
	"context"
	"sync"

	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
	"github.com/hupe1980/classmesh/engine"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/model"
	"github.com/hupe1980/classmesh/scenario"
)

// Options configures the Simulation instance.
type Options struct {
	// Store persists messages, knowledge and memory (defaults to in-memory).
	Store core.Store

	// RetryableWrite filters store errors worth another attempt.
	RetryableWrite func(err error) bool

	// Model backs LLM-enabled agents. Nil keeps every agent on rules.
	Model model.Model

	// Callbacks are tick lifecycle hooks.
	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// CurriculumView is the curriculum as reported by the query surface.
type CurriculumView struct {
	Courses  []curriculum.Course   `json:"courses"`
	Progress []curriculum.Progress `json:"progress"`
}

// Simulation is the high-level façade aggregating the engine and its query
// surface.
type Simulation struct {
	opts   Options
	engine *engine.Engine

	mu      sync.Mutex
	running bool
	done    chan struct{}
	runErr  error
}

// New creates a simulation for sc. A nil scenario runs scenario.Default().
// An invalid scenario returns its *core.ConfigError.
func New(sc *scenario.Scenario, optFns ...func(o *Options)) (*Simulation, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	eng, err := engine.New(sc, func(o *engine.Options) {
		o.Store = opts.Store
		o.RetryableWrite = opts.RetryableWrite
		o.Model = opts.Model
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}
	return &Simulation{opts: opts, engine: eng}, nil
}

// Engine exposes the underlying engine.
func (s *Simulation) Engine() *engine.Engine { return s.engine }

// Run blocks until ticks have been committed (0 means until stopped), ctx
// is cancelled or Stop is called.
func (s *Simulation) Run(ctx context.Context, ticks int64) error {
	return s.engine.Run(ctx, ticks)
}

// Start runs the simulation in the background. It fails with
// core.ErrAlreadyRunning while a run is active.
func (s *Simulation) Start(ticks int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.ErrAlreadyRunning
	}
	s.running = true
	s.runErr = nil
	done := make(chan struct{})
	s.done = done

	go func() {
		err := s.engine.Run(context.Background(), ticks)
		if err != nil {
			s.opts.Logger.Error("simulation.run.failed", "error", err.Error())
		}
		s.mu.Lock()
		s.running = false
		s.runErr = err
		s.mu.Unlock()
		close(done)
	}()
	return nil
}

// Wait blocks until a background run started with Start has finished and
// returns its error.
func (s *Simulation) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step runs exactly one tick.
func (s *Simulation) Step(ctx context.Context) (engine.TickReport, error) {
	return s.engine.Step(ctx)
}

// Stop halts a running simulation after the tick in flight commits.
func (s *Simulation) Stop() error { return s.engine.Stop() }

// Pause holds a running simulation before its next tick.
func (s *Simulation) Pause() error { return s.engine.Pause() }

// Resume releases a paused simulation.
func (s *Simulation) Resume() error { return s.engine.Resume() }

// Reload validates sc and applies it between ticks.
func (s *Simulation) Reload(sc *scenario.Scenario) error { return s.engine.Reload(sc) }

// Close stops the simulation, drains pending writes and closes the store.
func (s *Simulation) Close() error { return s.engine.Close() }

// Status returns a snapshot of the run.
func (s *Simulation) Status() engine.Status { return s.engine.Status() }

// SimTime returns the current simulated time.
func (s *Simulation) SimTime() core.SimTime { return s.engine.SimTime() }

// Agents returns the roster in registration order.
func (s *Simulation) Agents() []core.AgentProfile { return s.engine.Registry().List() }

// Agent returns the profile of id.
func (s *Simulation) Agent(id string) (core.AgentProfile, bool) {
	return s.engine.Registry().Get(id)
}

// AddAgent registers a new agent.
func (s *Simulation) AddAgent(ctx context.Context, p core.AgentProfile) error {
	return s.engine.AddAgent(ctx, p)
}

// UpdateAgent replaces an agent's profile.
func (s *Simulation) UpdateAgent(p core.AgentProfile) error { return s.engine.UpdateAgent(p) }

// RemoveAgent unregisters an agent.
func (s *Simulation) RemoveAgent(id string) error { return s.engine.RemoveAgent(id) }

// Messages queries the global event log. Without explicit kinds only
// message and perception events are returned.
func (s *Simulation) Messages(f bus.LogFilter) []core.WorldEvent {
	if len(f.Kinds) == 0 {
		f.Kinds = []core.WorldEventKind{core.WorldEventMessage, core.WorldEventPerception}
	}
	return s.engine.Bus().Log(f)
}

// Knowledge returns the understanding scores of agentID.
func (s *Simulation) Knowledge(agentID string) (map[string]float64, error) {
	if !s.engine.Registry().Exists(agentID) {
		return nil, core.ErrUnknownAgent
	}
	return s.engine.Knowledge().Snapshot(agentID), nil
}

// Timetable returns the timetable of group, or all entries when group is
// empty.
func (s *Simulation) Timetable(group string) []core.TimetableEntry {
	tt := s.engine.Timetable()
	if group == "" {
		return tt.Entries()
	}
	return tt.ForGroup(group)
}

// Curriculum returns the courses and their progress.
func (s *Simulation) Curriculum() CurriculumView {
	cur := s.engine.Curriculum()
	return CurriculumView{Courses: cur.Courses(), Progress: cur.Progress()}
}

// Semester lists the weeks of the academic calendar.
func (s *Simulation) Semester() []clock.WeekSummary {
	return clock.Semester(s.engine.Scenario().Calendar.Semester)
}

// Failures returns the non-fatal failure counts by kind.
func (s *Simulation) Failures() map[core.FailureKind]int64 {
	return s.engine.Failures().Snapshot()
}

// Subscribe returns a live feed of the global event log. Call the returned
// func to unsubscribe.
func (s *Simulation) Subscribe(buffer int) (<-chan core.WorldEvent, func()) {
	return s.engine.Subscribe(buffer)
}
