package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/memory"
	"github.com/hupe1980/classmesh/session"
)

// DefaultMaxRestarts is the number of panics an agent survives.
const DefaultMaxRestarts = 3

// State is the position of a runtime in its per-tick cycle.
type State int

// Runtime states.
const (
	StateAwaitingTick State = iota
	StateDraining
	StateDeciding
	StateActing
	StateDone
	StateDisabled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingTick:
		return "awaiting_tick"
	case StateDraining:
		return "draining"
	case StateDeciding:
		return "deciding"
	case StateActing:
		return "acting"
	case StateDone:
		return "done"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Inbox hands out an agent's pending messages. *bus.Bus satisfies it.
type Inbox interface {
	Drain(agentID string) []core.Message
}

// Outbox stages an agent's messages for the tick commit. *bus.Batch
// satisfies it.
type Outbox interface {
	Publish(msg core.Message) error
	Discard()
}

// Contexts is the context window store. *memory.Manager satisfies it.
type Contexts interface {
	Seed(ctx context.Context, agentID string) error
	Observe(ctx context.Context, agentID string, items ...memory.Item)
	Snapshot(agentID string) ([]memory.Item, string)
}

// Sessions answers the phase gate. *session.Manager satisfies it.
type Sessions interface {
	Phase(group string) core.SessionPhase
	AllowedTopics(role core.Role, group string) []core.Topic
}

// Knowledge exposes an agent's understanding scores. *knowledge.Tracker
// satisfies it.
type Knowledge interface {
	Snapshot(agentID string) map[string]float64
}

// Deps are the shared collaborators of every runtime.
type Deps struct {
	Inbox     Inbox
	Contexts  Contexts
	Sessions  Sessions
	Knowledge Knowledge
	Failures  *core.FailureCounters
	Logger    logging.Logger
}

// Options configures a Runtime.
type Options struct {
	// Strategy decides what the agent does each tick.
	Strategy decision.Strategy
	// Fallback runs when Strategy fails with an error that is neither a
	// timeout nor a panic. Nil drops the agent's output for that tick.
	Fallback decision.Strategy
	// NewStrategy rebuilds the strategies after a panic. Nil keeps them.
	NewStrategy func(p core.AgentProfile) (strategy, fallback decision.Strategy)
	// Timeout bounds each decision unless the profile sets its own.
	Timeout time.Duration
	// MaxRestarts is the number of panics survived before the runtime is
	// disabled.
	MaxRestarts int
	// Rand drives every random choice of this agent.
	Rand *rand.Rand
}

// Tick is the input of one step.
type Tick struct {
	Time   core.SimTime
	Events []core.SystemEvent
}

// StepResult reports one step.
type StepResult struct {
	AgentID    string
	Drained    int
	Published  int
	Downgraded int
	Knowledge  []knowledge.Change
	TimedOut   bool
	Panicked   bool
	Skipped    bool
	Err        error
	Duration   time.Duration
}

// Runtime drives one agent through the tick cycle. A runtime is stepped by
// at most one goroutine at a time; its accessors are safe for concurrent
// use.
type Runtime struct {
	mu             sync.Mutex
	profile        core.AgentProfile
	deps           Deps
	opts           Options
	state          State
	restarts       int
	pendingRestart bool
	lastErr        error
}

// New creates a runtime for profile.
func New(profile core.AgentProfile, deps Deps, optFns ...func(o *Options)) *Runtime {
	opts := Options{MaxRestarts: DefaultMaxRestarts}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Strategy == nil {
		opts.Strategy = decision.Nop
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if opts.MaxRestarts < 0 {
		opts.MaxRestarts = 0
	}
	if deps.Failures == nil {
		deps.Failures = core.NewFailureCounters()
	}
	deps.Logger = logging.OrNoOp(deps.Logger)
	return &Runtime{profile: profile.Clone(), deps: deps, opts: opts}
}

// ID returns the agent id.
func (r *Runtime) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile.ID
}

// Profile returns a copy of the agent profile.
func (r *Runtime) Profile() core.AgentProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile.Clone()
}

// UpdateProfile replaces the profile; it takes effect on the next step.
func (r *Runtime) UpdateProfile(p core.AgentProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = p.Clone()
}

// SetStrategy swaps the decision strategies.
func (r *Runtime) SetStrategy(strategy, fallback decision.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strategy == nil {
		strategy = decision.Nop
	}
	r.opts.Strategy = strategy
	r.opts.Fallback = fallback
}

// Strategy returns the primary decision strategy.
func (r *Runtime) Strategy() decision.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.Strategy
}

// State returns the current state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Restarts returns how many times the runtime recovered from a panic.
func (r *Runtime) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// Disabled reports whether the runtime exhausted its restarts.
func (r *Runtime) Disabled() bool {
	return r.State() == StateDisabled
}

// LastError returns the most recent step error, if any.
func (r *Runtime) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Start loads the agent's long-term memory.
func (r *Runtime) Start(ctx context.Context) error {
	if r.deps.Contexts == nil {
		return nil
	}
	if err := r.deps.Contexts.Seed(ctx, r.ID()); err != nil {
		return fmt.Errorf("seed memory for %s: %w", r.ID(), err)
	}
	return nil
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// prepare applies a pending restart and snapshots the step configuration.
func (r *Runtime) prepare() (core.AgentProfile, Options, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDisabled {
		return core.AgentProfile{}, Options{}, false
	}
	if r.pendingRestart {
		r.pendingRestart = false
		if r.opts.NewStrategy != nil {
			r.opts.Strategy, r.opts.Fallback = r.opts.NewStrategy(r.profile.Clone())
			if r.opts.Strategy == nil {
				r.opts.Strategy = decision.Nop
			}
		}
		r.deps.Logger.Info("agent.restarted", "agent_id", r.profile.ID, "restarts", r.restarts)
	}
	r.state = StateAwaitingTick
	return r.profile.Clone(), r.opts, true
}

// Step runs one tick for the agent, staging its messages in out.
func (r *Runtime) Step(ctx context.Context, tick Tick, out Outbox) (res StepResult) {
	start := time.Now()
	profile, opts, ok := r.prepare()
	res.AgentID = profile.ID
	if !ok {
		res.AgentID = r.ID()
		res.Skipped = true
		return res
	}
	log := r.deps.Logger

	defer func() {
		if rec := recover(); rec != nil {
			out.Discard()
			res = r.crashed(res, fmt.Errorf("runtime panic: %v\n%s", rec, debug.Stack()))
		}
		res.Duration = time.Since(start)
		r.mu.Lock()
		r.lastErr = res.Err
		r.mu.Unlock()
	}()

	timeout := opts.Timeout
	if profile.Decision.Timeout > 0 {
		timeout = profile.Decision.Timeout
	}
	// One deadline covers context compaction and the decision.
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.setState(StateDraining)
	var inbox []core.Message
	if r.deps.Inbox != nil {
		inbox = r.deps.Inbox.Drain(profile.ID)
	}
	res.Drained = len(inbox)
	var recent []memory.Item
	var summary string
	if c := r.deps.Contexts; c != nil {
		items := make([]memory.Item, 0, len(inbox)+len(tick.Events))
		for _, ev := range tick.Events {
			items = append(items, EventItem(ev))
		}
		for _, m := range inbox {
			items = append(items, memory.FromMessage(m, memory.DirectionIn))
		}
		c.Observe(stepCtx, profile.ID, items...)
		recent, summary = c.Snapshot(profile.ID)
	}

	r.setState(StateDeciding)
	var phase core.SessionPhase
	allowed := session.AllowedTopics(profile.Role, core.PhaseInactive)
	if s := r.deps.Sessions; s != nil {
		phase = s.Phase(profile.Group)
		allowed = s.AllowedTopics(profile.Role, profile.Group)
	}
	var scores map[string]float64
	if r.deps.Knowledge != nil {
		scores = r.deps.Knowledge.Snapshot(profile.ID)
	}
	in := decision.Input{
		Profile:   profile,
		Time:      tick.Time,
		Phase:     phase,
		Allowed:   allowed,
		Inbox:     inbox,
		Events:    tick.Events,
		Recent:    recent,
		Summary:   summary,
		Knowledge: scores,
		Rand:      opts.Rand,
	}
	decided, err := decision.Timed{Strategy: opts.Strategy, Timeout: timeout}.Decide(stepCtx, in)
	var pe *decision.PanicError
	var te *core.DecisionTimeoutError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		out.Discard()
		return r.crashed(res, err)
	case errors.As(err, &te):
		r.deps.Failures.Inc(core.FailureDecisionTimeout)
		log.Warn("agent.decision.timeout", "agent_id", profile.ID, "tick", tick.Time.Tick, "timeout", timeout)
		res.TimedOut = true
		res.Err = err
		r.setState(StateDone)
		return res
	case ctx.Err() != nil:
		res.Err = err
		r.setState(StateDone)
		return res
	default:
		de := asDecisionError(profile.ID, opts.Strategy.Name(), err)
		r.deps.Failures.Inc(core.FailureDecisionError)
		log.Warn("agent.decision.failed", "agent_id", profile.ID, "strategy", opts.Strategy.Name(), "error", de.Error())
		res.Err = de
		if opts.Fallback == nil {
			r.setState(StateDone)
			return res
		}
		decided, err = decision.Timed{Strategy: opts.Fallback, Timeout: timeout}.Decide(stepCtx, in)
		if errors.As(err, &pe) {
			out.Discard()
			return r.crashed(res, err)
		}
		if err != nil {
			r.deps.Failures.Record(err)
			log.Warn("agent.decision.fallback_failed", "agent_id", profile.ID, "error", err.Error())
			r.setState(StateDone)
			return res
		}
	}
	decided.Commit()
	for _, e := range decided.Errors {
		if !r.deps.Failures.Record(e) {
			r.deps.Failures.Inc(core.FailureDecisionError)
		}
		log.Warn("agent.decision.fallback", "agent_id", profile.ID, "error", e.Error())
	}

	r.setState(StateActing)
	var outbound []memory.Item
	for _, m := range decided.Messages {
		m.SenderID = profile.ID
		m.Tick = tick.Time.Tick
		if m.ID == "" {
			m.ID = core.NewMessage(m.SenderID, m.ReceiverID, m.Topic, m.Content, m.Tick).ID
		}
		m.Visibility = core.VisibilityTrue
		enforced, downgraded := session.Enforce(allowed, m)
		if downgraded {
			res.Downgraded++
			r.deps.Failures.Inc(core.FailureDisallowedTopic)
			log.Debug("agent.topic.downgraded", "agent_id", profile.ID, "topic", m.Topic, "phase", phase.Phase.String())
		}
		if err := out.Publish(enforced); err != nil {
			continue
		}
		res.Published++
		outbound = append(outbound, memory.FromMessage(enforced, memory.DirectionOut))
	}
	if c := r.deps.Contexts; c != nil && len(outbound) > 0 {
		c.Observe(stepCtx, profile.ID, outbound...)
	}
	for _, ch := range decided.Knowledge {
		ch.AgentID = profile.ID
		res.Knowledge = append(res.Knowledge, ch)
	}
	log.Debug("agent.decision.completed", "agent_id", profile.ID, "strategy", opts.Strategy.Name(), "emitted", res.Published, "duration", time.Since(start))
	r.setState(StateDone)
	return res
}

// crashed records a panic and schedules a restart or disables the runtime.
func (r *Runtime) crashed(res StepResult, err error) StepResult {
	r.deps.Failures.Inc(core.FailureAgentPanic)
	res.Panicked = true
	res.Err = err
	res.Published = 0
	res.Knowledge = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
	if r.restarts > r.opts.MaxRestarts {
		r.state = StateDisabled
		r.deps.Logger.Error("agent.disabled", "agent_id", r.profile.ID, "restarts", r.restarts, "error", err.Error())
		return res
	}
	r.pendingRestart = true
	r.state = StateDone
	r.deps.Logger.Error("agent.panic", "agent_id", r.profile.ID, "restarts", r.restarts, "error", err.Error())
	return res
}

func asDecisionError(agentID, strategy string, err error) *core.DecisionError {
	var de *core.DecisionError
	if errors.As(err, &de) {
		return de
	}
	return &core.DecisionError{AgentID: agentID, Strategy: strategy, Err: err}
}

// EventItem renders a scheduled event as a context window entry.
func EventItem(ev core.SystemEvent) memory.Item {
	parts := []string{string(ev.Type)}
	for _, s := range []string{ev.Topic, ev.Action, ev.LessonPlan, ev.Text} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(ev.Concepts) > 0 {
		parts = append(parts, "concepts="+strings.Join(ev.Concepts, ","))
	}
	return memory.Item{Direction: memory.DirectionEvent, SenderID: core.SystemSender, Content: strings.Join(parts, ": "), Tick: ev.Tick}
}
