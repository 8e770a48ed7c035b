package decision

import (
	"context"
	"math/rand"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/memory"
)

// Strategy decides what an agent does in one tick.
type Strategy interface {
	// Name identifies the strategy in logs and errors.
	Name() string

	// Decide returns the proposed outbound messages and knowledge changes.
	// Implementations must honour ctx cancellation.
	Decide(ctx context.Context, in Input) (Output, error)
}

// Input is the read-only view an agent decides on.
type Input struct {
	Profile   core.AgentProfile
	Time      core.SimTime
	Phase     core.SessionPhase
	Allowed   []core.Topic
	Inbox     []core.Message
	Events    []core.SystemEvent
	Recent    []memory.Item
	Summary   string
	Knowledge map[string]float64
	Rand      *rand.Rand
}

// Score returns the agent's understanding of topic, falling back to the
// knowledge default for unseen topics.
func (in Input) Score(topic string) float64 {
	if s, ok := in.Knowledge[topic]; ok {
		return s
	}
	return knowledge.DefaultScore
}

// Output is the result of one decision.
type Output struct {
	Messages  []core.Message
	Knowledge []knowledge.Change
	// Errors lists non-fatal failures that were recovered inside the
	// decision, such as a model call that fell back to rule text.
	Errors []error
	// Effects change behaviour state (mood, grades, teaching feedback).
	// They run on Commit, so a decision that is abandoned or rejected
	// leaves the behaviour as it was.
	Effects []func()
}

// Commit applies the effects in the order they were recorded.
func (o Output) Commit() {
	for _, fn := range o.Effects {
		fn()
	}
}

// Func adapts an ordinary function to the Strategy interface.
type Func func(ctx context.Context, in Input) (Output, error)

// Name implements Strategy.
func (f Func) Name() string { return "func" }

// Decide implements Strategy.
func (f Func) Decide(ctx context.Context, in Input) (Output, error) { return f(ctx, in) }

// Nop is a strategy that never emits anything.
var Nop Strategy = Func(func(context.Context, Input) (Output, error) { return Output{}, nil })
