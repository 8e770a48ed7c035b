package engine

import (
	"context"
	"hash/fnv"
	"math/rand"

	"github.com/hupe1980/classmesh/agent"
	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/decision"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/scenario"
	"github.com/hupe1980/classmesh/social"
)

// AddAgent registers p and starts its runtime. The agent takes part from the
// next tick on.
func (e *Engine) AddAgent(ctx context.Context, p core.AgentProfile) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	rt, err := e.addAgent(p)
	if err != nil {
		return err
	}
	if e.initialized {
		e.seedAgent(ctx, rt)
	}
	e.rebuildEnv()
	e.logger.Info("engine.agent.added", "agent_id", p.ID, "role", string(p.Role), "group", p.Group)
	return nil
}

// UpdateAgent replaces the profile of a registered agent. A new role or a
// changed llm_enabled flag rebuilds its strategies.
func (e *Engine) UpdateAgent(p core.AgentProfile) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	old, ok := e.registry.Get(p.ID)
	if !ok {
		return core.ErrUnknownAgent
	}
	if err := e.registry.Update(p); err != nil {
		return err
	}
	rt, ok := e.Runtime(p.ID)
	if !ok {
		return core.ErrUnknownAgent
	}
	rt.UpdateProfile(p)
	if old.Role != p.Role || old.Decision.LLMEnabled != p.Decision.LLMEnabled {
		rt.SetStrategy(e.strategiesFor(p))
	}
	if old.Role != p.Role {
		e.world.Remove(p.ID)
		e.world.Place(p.ID, p.Role)
	}
	e.rebuildEnv()
	e.logger.Info("engine.agent.updated", "agent_id", p.ID)
	return nil
}

// RemoveAgent unregisters an agent. Messages still queued for it become dead
// letters; knowledge changes it caused in the running tick are discarded.
func (e *Engine) RemoveAgent(id string) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	if err := e.registry.Remove(id); err != nil {
		return err
	}
	e.bus.Unregister(id)
	e.world.Remove(id)
	e.contexts.Remove(id)
	e.tracker.Remove(id)

	e.agentsMu.Lock()
	delete(e.runtimes, id)
	e.agentsMu.Unlock()
	e.envMu.Lock()
	delete(e.rules, id)
	e.envMu.Unlock()

	e.rebuildEnv()
	e.logger.Info("engine.agent.removed", "agent_id", id)
	return nil
}

// Reload applies a new configuration between ticks. An invalid scenario is
// rejected and the running configuration stays in place. The roster is not
// touched; use AddAgent, UpdateAgent and RemoveAgent for that.
func (e *Engine) Reload(sc *scenario.Scenario) error {
	if err := sc.Validate(); err != nil {
		e.logger.Warn("engine.reload.rejected", "error", err.Error())
		return err
	}

	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	cur := e.Curriculum().Reload(sc.Curriculum)
	e.cfgMu.Lock()
	e.scenario = sc
	e.curriculum = cur
	e.cfgMu.Unlock()

	e.generator.Reload(sc.ScheduleConfig(), cur)
	e.sessions.SetConfig(sc.ClassController)
	e.perception.SetConfig(sc.Perception)
	e.rebuildEnv()
	e.logger.Info("engine.reloaded", "scenario", sc.Name, "tick", e.Tick())
	return nil
}

func (e *Engine) addAgent(p core.AgentProfile) (*agent.Runtime, error) {
	if err := e.registry.Add(p); err != nil {
		return nil, err
	}
	e.world.Place(p.ID, p.Role)
	rt := e.newRuntime(p)
	e.agentsMu.Lock()
	e.runtimes[p.ID] = rt
	e.agentsMu.Unlock()
	return rt, nil
}

func (e *Engine) newRuntime(p core.AgentProfile) *agent.Runtime {
	logger := e.logger
	if sl, ok := logger.(*logging.SimLogger); ok {
		logger = sl.WithAgent(p.ID)
	}
	strategy, fallback := e.strategiesFor(p)
	rtCfg := e.currentScenario().Runtime
	return agent.New(p, agent.Deps{
		Inbox:     e.bus,
		Contexts:  e.contexts,
		Sessions:  e.sessions,
		Knowledge: e.tracker,
		Failures:  e.failures,
		Logger:    logger,
	}, func(o *agent.Options) {
		o.Strategy = strategy
		o.Fallback = fallback
		o.NewStrategy = e.strategiesFor
		o.Timeout = rtCfg.DecisionTimeout
		o.MaxRestarts = rtCfg.MaxRestarts
		o.Rand = rand.New(rand.NewSource(e.currentScenario().Seed ^ idHash(p.ID)))
	})
}

// strategiesFor builds the primary and fallback strategy of p. LLM-enabled
// agents fall back to their rules when the model fails.
func (e *Engine) strategiesFor(p core.AgentProfile) (decision.Strategy, decision.Strategy) {
	if e.opts.Strategies != nil {
		return e.opts.Strategies(p)
	}

	e.envMu.Lock()
	defer e.envMu.Unlock()
	rules := decision.NewRules(decision.ForRole(p.Role), e.env)
	tracked := []*decision.Rules{rules}
	var (
		primary  decision.Strategy = rules
		fallback decision.Strategy
	)
	if p.Decision.LLMEnabled && e.composer != nil {
		llm := decision.NewLLM(decision.ForRole(p.Role), e.env, e.composer)
		tracked = append(tracked, llm)
		primary, fallback = llm, rules
	}
	e.rules[p.ID] = tracked
	return primary, fallback
}

func (e *Engine) seedAgent(ctx context.Context, rt *agent.Runtime) {
	if err := rt.Start(ctx); err != nil {
		e.logger.Warn("engine.agent.seed_failed", "agent_id", rt.ID(), "error", err.Error())
	}
	scores, err := e.writer.LoadKnowledge(ctx, rt.ID())
	if err != nil {
		e.logger.Warn("engine.knowledge.load_failed", "agent_id", rt.ID(), "error", err.Error())
		return
	}
	if len(scores) > 0 {
		e.tracker.Seed(rt.ID(), scores)
	}
}

// rebuildEnv refreshes the shared rule environment after a roster or
// configuration change. Students at adjacent desks count as seatmates.
func (e *Engine) rebuildEnv() {
	sc := e.currentScenario()
	ids := e.registry.IDs()
	graph := social.Build(sc.Social, ids)
	students := e.registry.GroupMembers(core.GroupAll, core.RoleStudent)
	for i, a := range students {
		for _, b := range students[i+1:] {
			if e.world.Adjacent(a, b) {
				graph.AddSeatmates(social.Pair{a, b})
			}
		}
	}

	e.envMu.Lock()
	defer e.envMu.Unlock()
	e.env = decision.Env{
		Directory:  e.registry,
		Seating:    e.world,
		Curriculum: e.Curriculum(),
		Social:     graph,
		Config:     sc.Behavior,
	}
	for _, rs := range e.rules {
		for _, r := range rs {
			r.SetEnv(e.env)
		}
	}
}

func idHash(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// toolEnv is the view of the simulation offered to model tool calls.
type toolEnv struct {
	e *Engine
}

func (t toolEnv) SimTime() core.SimTime { return t.e.SimTime() }

func (t toolEnv) Timetable(group string) []core.TimetableEntry {
	tt := t.e.generator.Timetable()
	if group == "" {
		return tt.Entries()
	}
	return tt.ForGroup(group)
}

func (t toolEnv) RecentMemory(agentID string, limit int) []string {
	items, _ := t.e.contexts.Snapshot(agentID)
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Content)
	}
	return out
}
