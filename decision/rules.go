package decision

import (
	"context"
	"sync"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/curriculum"
	"github.com/hupe1980/classmesh/social"
)

// Directory resolves agents by group and role.
type Directory interface {
	GroupMembers(group string, role core.Role) []string
	Exists(id string) bool
}

// Seating answers where students sit and whom the teacher can see.
type Seating interface {
	Visible(agentID string) bool
	StudentsInRow(row int) []string
}

// Env is the shared simulation view of the rule behaviours. Every field is
// optional.
type Env struct {
	Directory  Directory
	Seating    Seating
	Curriculum *curriculum.Curriculum
	Social     *social.Graph
	Config     Config
}

func (e Env) members(group string, role core.Role) []string {
	if e.Directory == nil {
		return nil
	}
	if group == "" {
		group = core.GroupAll
	}
	return e.Directory.GroupMembers(group, role)
}

func (e Env) known(id string) bool {
	return e.Directory != nil && e.Directory.Exists(id)
}

func (e Env) keywords(conceptID string) []string {
	if e.Curriculum == nil {
		return []string{conceptID}
	}
	return e.Curriculum.Keywords(conceptID)
}

func (e Env) courseFor(conceptID string) string {
	if e.Curriculum == nil {
		return ""
	}
	course, _ := e.Curriculum.CourseForConcept(conceptID)
	return course
}

func (e Env) conceptName(conceptID string) string {
	if e.Curriculum != nil {
		if c, ok := e.Curriculum.Concept(conceptID); ok && c.Name != "" {
			return c.Name
		}
	}
	return conceptID
}

// Behavior is the capability set of one role. Implementations keep per
// agent state and are driven by a single Rules strategy.
type Behavior interface {
	OnEvent(t *Turn, ev core.SystemEvent)
	OnMessage(t *Turn, msg core.Message)
}

// ForRole returns the stock behaviour of role.
func ForRole(role core.Role) Behavior {
	if role == core.RoleTeacher {
		return NewTeacherBehavior()
	}
	return NewStudentBehavior()
}

// RulesOptions configures a Rules strategy.
type RulesOptions struct {
	// Name overrides the strategy name ("rule", or "llm" with a composer).
	Name string
	// Composer writes message text; nil keeps the rule text.
	Composer Composer
}

// Rules runs a Behavior over scheduled events, then over the inbox in
// arrival order. Calls are serialized so a late call that outlived its
// deadline finishes before the next one starts.
type Rules struct {
	mu       sync.Mutex
	behavior Behavior
	opts     RulesOptions

	envMu sync.RWMutex
	env   Env
}

// NewRules creates a rule-based strategy around b.
func NewRules(b Behavior, env Env, optFns ...func(o *RulesOptions)) *Rules {
	opts := RulesOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Name == "" {
		opts.Name = "rule"
		if opts.Composer != nil {
			opts.Name = "llm"
		}
	}
	return &Rules{behavior: b, opts: opts, env: env}
}

// Name implements Strategy.
func (r *Rules) Name() string { return r.opts.Name }

// Behavior returns the wrapped behaviour.
func (r *Rules) Behavior() Behavior { return r.behavior }

// SetEnv swaps the environment, e.g. after a configuration reload.
func (r *Rules) SetEnv(env Env) {
	r.envMu.Lock()
	defer r.envMu.Unlock()
	r.env = env
}

func (r *Rules) currentEnv() Env {
	r.envMu.RLock()
	defer r.envMu.RUnlock()
	return r.env
}

// Decide implements Strategy.
func (r *Rules) Decide(ctx context.Context, in Input) (Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := newTurn(ctx, in, r.currentEnv(), r.opts.Name, r.opts.Composer)
	for _, ev := range in.Events {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		r.behavior.OnEvent(t, ev)
	}
	for _, msg := range in.Inbox {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		r.behavior.OnMessage(t, msg)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	return t.out, nil
}
