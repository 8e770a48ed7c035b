package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/classmesh/agent"
	"github.com/hupe1980/classmesh/bus"
	"github.com/hupe1980/classmesh/clock"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/memory"
	"github.com/hupe1980/classmesh/model"
	"github.com/hupe1980/classmesh/perception"
	"github.com/hupe1980/classmesh/scenario"
	"github.com/hupe1980/classmesh/schedule"
	"github.com/hupe1980/classmesh/session"
	"github.com/hupe1980/classmesh/store"
	"github.com/hupe1980/classmesh/world"
)

// State is the lifecycle state of an Engine.
type State int

const (
	// StateIdle means no run is active; Step may be called.
	StateIdle State = iota
	// StateRunning means Run is releasing ticks.
	StateRunning
	// StatePaused means Run waits before releasing the next tick.
	StatePaused
	// StateStopped means the last run was stopped.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Options configures an Engine using the functional options pattern.
//
// Example:
//
//	eng, err := engine.New(sc, func(o *engine.Options) {
//	    o.Store = sqliteStore
//	    o.Model = openaiModel
//	    o.Logger = logger
//	})
type Options struct {
	// Store receives messages, knowledge, memory and world events through
	// a store.AsyncWriter. Defaults to an in-memory store.
	Store core.Store

	// RetryableWrite filters store errors worth another attempt. Nil
	// retries every error.
	RetryableWrite func(err error) bool

	// Model backs agents with llm_enabled and, when the scenario asks for
	// it, context compaction. Nil keeps every agent on rules.
	Model model.Model

	// Strategies overrides the strategy construction per agent.
	Strategies func(p core.AgentProfile) (strategy, fallback decision.Strategy)

	// Callbacks are tick lifecycle hooks.
	Callbacks *CallbackManager

	// Failures counts non-fatal failures; a fresh set is created if nil.
	Failures *core.FailureCounters

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Status is a point-in-time view of the engine. Reading it never waits for
// the running tick.
type Status struct {
	State         State                        `json:"state"`
	Tick          int64                        `json:"tick"`
	Time          core.SimTime                 `json:"time"`
	Agents        int                          `json:"agents"`
	Disabled      []string                     `json:"disabled,omitempty"`
	Sessions      map[string]core.SessionPhase `json:"sessions"`
	PendingWrites int                          `json:"pending_writes"`
	ModelCalls    int                          `json:"model_calls"`
	Failures      map[core.FailureKind]int64   `json:"failures"`
}

// TickReport summarizes one committed tick.
type TickReport struct {
	Tick      int64
	Time      core.SimTime
	Events    []core.SystemEvent
	Messages  []core.Message
	Knowledge []core.KnowledgeRecord
	Results   []agent.StepResult
	Duration  time.Duration
}

// MessagesFrom returns the committed messages sent by agentID.
func (r TickReport) MessagesFrom(agentID string) []core.Message {
	var out []core.Message
	for _, m := range r.Messages {
		if m.SenderID == agentID {
			out = append(out, m)
		}
	}
	return out
}

// TimedOut returns the agents whose decision timed out.
func (r TickReport) TimedOut() []string {
	var out []string
	for _, res := range r.Results {
		if res.TimedOut {
			out = append(out, res.AgentID)
		}
	}
	return out
}

// Engine is the simulation loop. It owns every component of one run and
// drives them tick by tick:
//
//  1. compute the SimTime of the next tick and refresh the sessions
//  2. schedule the tick's events (routine, timetable, scripted events)
//  3. release all agent runtimes concurrently, each with its own outbox
//  4. wait until every agent is done or timed out
//  5. commit: flush outboxes to the bus in roster order, persist the
//     messages, apply and persist knowledge changes, record the tick
//
// Nothing an agent says in tick N is visible to another agent before tick
// N+1. Exactly one tick runs at a time.
type Engine struct {
	opts     Options
	logger   logging.Logger
	failures *core.FailureCounters

	writer     *store.AsyncWriter
	registry   *core.Registry
	bus        *bus.Bus
	world      *world.World
	perception *perception.Model
	sessions   *session.Manager
	tracker    *knowledge.Tracker
	contexts   *memory.Manager
	generator  *schedule.Generator
	limiter    *core.ModelLimiter
	composer   decision.Composer

	cfgMu      sync.RWMutex
	scenario   *scenario.Scenario
	curriculum *curriculum.Curriculum

	agentsMu sync.RWMutex
	runtimes map[string]*agent.Runtime

	envMu sync.RWMutex
	env   decision.Env
	rules map[string][]*decision.Rules

	// stepMu serializes ticks and roster changes.
	stepMu       sync.Mutex
	initialized  bool
	rng          *rand.Rand
	persistedSeq uint64

	tick    atomic.Int64
	current atomic.Int64

	stateMu  sync.Mutex
	state    State
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
	resume   chan struct{}
}

// New builds an engine for sc. The scenario is validated first; an invalid
// scenario returns its *core.ConfigError. A nil scenario runs
// scenario.Default().
func New(sc *scenario.Scenario, optFns ...func(o *Options)) (*Engine, error) {
	if sc == nil {
		sc = scenario.Default()
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.Failures == nil {
		opts.Failures = core.NewFailureCounters()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	e := &Engine{
		opts:       opts,
		logger:     opts.Logger,
		failures:   opts.Failures,
		registry:   core.NewRegistry(),
		scenario:   sc,
		curriculum: curriculum.New(sc.Curriculum),
		runtimes:   make(map[string]*agent.Runtime),
		rules:      make(map[string][]*decision.Rules),
		rng:        rand.New(rand.NewSource(sc.Seed + 2)),
	}

	e.writer = store.NewAsyncWriter(opts.Store, func(o *store.AsyncWriterOptions) {
		o.QueueSize = sc.Runtime.WriteQueueSize
		o.MaxAttempts = sc.Runtime.WriteRetries
		if sc.Runtime.WriteTimeout > 0 {
			o.EnqueueTimeout = sc.Runtime.WriteTimeout
		}
		o.Retryable = opts.RetryableWrite
		o.Failures = opts.Failures
		o.Logger = opts.Logger
	})
	e.world = world.New(sc.World)
	e.perception = perception.New(sc.Perception, e.world, e.registry, rand.New(rand.NewSource(sc.Seed+1)))
	e.bus = bus.New(e.registry, func(o *bus.Options) {
		o.QueueCapacity = sc.Runtime.QueueCapacity
		o.HoldUnpersisted = true
		o.Perception = e.perception
		o.OnDrop = e.deadLetter
		o.Failures = opts.Failures
		o.Logger = opts.Logger
	})
	e.sessions = session.NewManager(sc.ClassController, opts.Logger)
	e.tracker = knowledge.NewTracker(rand.New(rand.NewSource(sc.Seed)))
	e.limiter = core.NewModelLimiter(sc.LLM.CallBudget)

	var compactor memory.Compactor = memory.NaiveCompactor{}
	if opts.Model != nil {
		if sc.LLM.ModelCompaction {
			compactor = memory.NewModelCompactor(opts.Model, func(o *memory.ModelCompactorOptions) {
				o.Fallback = memory.NaiveCompactor{MaxRunes: sc.Runtime.MaxSummaryRunes}
				o.Limiter = e.limiter
				o.Logger = opts.Logger
			})
		}
		e.composer = decision.NewModelComposer(opts.Model, func(o *decision.ModelComposerOptions) {
			o.Env = toolEnv{e: e}
			o.Limiter = e.limiter
			o.Logger = opts.Logger
		})
	}
	e.contexts = memory.NewManager(func(o *memory.Options) {
		o.MaxItems = sc.Runtime.MaxContextItems
		o.MaxSummaryRunes = sc.Runtime.MaxSummaryRunes
		o.CompactTimeout = sc.Runtime.DecisionTimeout
		o.Compactor = compactor
		o.Store = e.writer
		o.Failures = opts.Failures
		o.Logger = opts.Logger
	})
	e.generator = schedule.New(sc.ScheduleConfig(), e.curriculum, e.registry)

	e.rebuildEnv()
	for _, p := range sc.Profiles() {
		if _, err := e.addAgent(p); err != nil {
			_ = e.writer.Close()
			return nil, err
		}
	}
	e.rebuildEnv()
	return e, nil
}

// init resumes from the store once, before the first tick.
func (e *Engine) init(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	last, err := e.writer.LastTick(ctx)
	if err != nil {
		return err
	}
	e.tick.Store(last)
	e.current.Store(last)
	for _, rt := range e.roster() {
		e.seedAgent(ctx, rt)
	}
	e.initialized = true
	if last > 0 {
		e.logger.Info("engine.restored", "last_tick", last)
	}
	return nil
}

// Run releases ticks until ticks have been committed (0 means until
// stopped), ctx is cancelled or Stop is called. A stopped run returns nil.
func (e *Engine) Run(ctx context.Context, ticks int64) error {
	e.stateMu.Lock()
	if e.state == StateRunning || e.state == StatePaused {
		e.stateMu.Unlock()
		return core.ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.state = StateRunning
	e.stopping = false
	e.cancel = cancel
	e.done = done
	e.resume = nil
	e.stateMu.Unlock()

	defer func() {
		cancel()
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.writer.Flush(flushCtx); err != nil {
			e.logger.Warn("engine.flush.failed", "error", err.Error())
		}
		flushCancel()

		e.stateMu.Lock()
		e.state = StateIdle
		if e.stopping {
			e.state = StateStopped
		}
		e.cancel = nil
		e.resume = nil
		close(done)
		e.stateMu.Unlock()
	}()

	e.logger.Info("engine.run.started", "from_tick", e.Tick()+1, "ticks", ticks)
	for n := int64(0); ticks <= 0 || n < ticks; n++ {
		if err := e.waitResumed(runCtx); err != nil {
			break
		}
		if _, err := e.step(runCtx); err != nil {
			if runCtx.Err() != nil {
				break
			}
			return err
		}
		if runCtx.Err() != nil {
			break
		}
		if interval := e.currentScenario().Runtime.TickInterval; interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-runCtx.Done():
			}
			timer.Stop()
		}
	}
	e.logger.Info("engine.run.finished", "tick", e.Tick())
	return ctx.Err()
}

// Step runs exactly one tick. It fails with core.ErrAlreadyRunning while Run
// is active.
func (e *Engine) Step(ctx context.Context) (TickReport, error) {
	e.stateMu.Lock()
	active := e.state == StateRunning || e.state == StatePaused
	e.stateMu.Unlock()
	if active {
		return TickReport{}, core.ErrAlreadyRunning
	}
	return e.step(ctx)
}

// Pause holds the run before the next tick. A tick already in flight
// completes and commits first.
func (e *Engine) Pause() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StateRunning {
		return core.ErrNotRunning
	}
	e.state = StatePaused
	e.resume = make(chan struct{})
	e.logger.Info("engine.paused", "tick", e.Tick())
	return nil
}

// Resume releases a paused run.
func (e *Engine) Resume() error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.state != StatePaused {
		return core.ErrNotRunning
	}
	close(e.resume)
	e.resume = nil
	e.state = StateRunning
	e.logger.Info("engine.resumed", "tick", e.Tick())
	return nil
}

func (e *Engine) waitResumed(ctx context.Context) error {
	e.stateMu.Lock()
	ch := e.resume
	e.stateMu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels outstanding decisions and waits for the run to halt. The
// tick in flight commits whatever finished before the cancellation.
func (e *Engine) Stop() error {
	e.stateMu.Lock()
	if e.state != StateRunning && e.state != StatePaused {
		e.stateMu.Unlock()
		return core.ErrNotRunning
	}
	e.stopping = true
	cancel, done := e.cancel, e.done
	e.stateMu.Unlock()

	cancel()
	<-done
	e.logger.Info("engine.stopped", "tick", e.Tick())
	return nil
}

// Flush waits until every queued store write has been applied or dropped.
func (e *Engine) Flush(ctx context.Context) error {
	return e.writer.Flush(ctx)
}

// Close stops a running simulation, drains pending writes and closes the
// store.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil && !errors.Is(err, core.ErrNotRunning) {
		return err
	}
	return e.writer.Close()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Tick returns the last committed tick.
func (e *Engine) Tick() int64 { return e.tick.Load() }

// SimTime returns the simulated time of the tick in flight, or of the last
// committed tick between ticks.
func (e *Engine) SimTime() core.SimTime {
	return clock.TickToTime(e.current.Load(), e.currentScenario().Calendar)
}

// Status returns a snapshot for the query surface.
func (e *Engine) Status() Status {
	st := Status{
		State:         e.State(),
		Tick:          e.Tick(),
		Time:          clock.TickToTime(e.Tick(), e.currentScenario().Calendar),
		Agents:        e.registry.Len(),
		Sessions:      e.sessions.Snapshot(),
		PendingWrites: e.writer.Pending(),
		ModelCalls:    e.limiter.Count(),
		Failures:      e.failures.Snapshot(),
	}
	for _, rt := range e.roster() {
		if rt.Disabled() {
			st.Disabled = append(st.Disabled, rt.ID())
		}
	}
	return st
}

// Subscribe returns a live feed of the global event log.
func (e *Engine) Subscribe(buffer int) (<-chan core.WorldEvent, func()) {
	return e.bus.Subscribe(buffer)
}

// Scenario returns the active configuration. Callers must not modify it.
func (e *Engine) Scenario() *scenario.Scenario { return e.currentScenario() }

func (e *Engine) currentScenario() *scenario.Scenario {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.scenario
}

// Curriculum returns the active curriculum.
func (e *Engine) Curriculum() *curriculum.Curriculum {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.curriculum
}

// Registry returns the agent directory.
func (e *Engine) Registry() *core.Registry { return e.registry }

// Bus returns the message bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// World returns the classroom.
func (e *Engine) World() *world.World { return e.world }

// Sessions returns the class session controllers.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Knowledge returns the knowledge tracker.
func (e *Engine) Knowledge() *knowledge.Tracker { return e.tracker }

// Contexts returns the context windows.
func (e *Engine) Contexts() *memory.Manager { return e.contexts }

// Timetable returns the active timetable.
func (e *Engine) Timetable() *schedule.Timetable { return e.generator.Timetable() }

// Failures returns the non-fatal failure counters.
func (e *Engine) Failures() *core.FailureCounters { return e.failures }

// Runtime returns the runtime of agentID.
func (e *Engine) Runtime(agentID string) (*agent.Runtime, bool) {
	e.agentsMu.RLock()
	defer e.agentsMu.RUnlock()
	rt, ok := e.runtimes[agentID]
	return rt, ok
}

// roster returns the runtimes in registry order.
func (e *Engine) roster() []*agent.Runtime {
	ids := e.registry.IDs()
	e.agentsMu.RLock()
	defer e.agentsMu.RUnlock()
	out := make([]*agent.Runtime, 0, len(ids))
	for _, id := range ids {
		if rt, ok := e.runtimes[id]; ok {
			out = append(out, rt)
		}
	}
	return out
}
