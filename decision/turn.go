package decision

import (
	"context"
	"errors"
	"maps"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/knowledge"
	"github.com/hupe1980/classmesh/memory"
)

// ErrBudgetExhausted is returned by a Composer when the run's model call
// budget is spent. The turn silently continues with rule text.
var ErrBudgetExhausted = errors.New("model call budget exhausted")

// ComposeRequest asks a Composer to write the text of one message.
type ComposeRequest struct {
	Profile     core.AgentProfile
	Instruction string
	Incoming    string
	Context     string
	Time        core.SimTime
}

// Composer writes message text, typically with a language model.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
}

// Turn accumulates the output of one decision. Behaviours use it to send
// messages, request knowledge changes and roll dice.
type Turn struct {
	ctx      context.Context
	in       Input
	env      Env
	strategy string
	composer Composer
	muted    bool
	scores   map[string]float64
	out      Output
}

func newTurn(ctx context.Context, in Input, env Env, strategy string, composer Composer) *Turn {
	scores := make(map[string]float64, len(in.Knowledge))
	maps.Copy(scores, in.Knowledge)
	return &Turn{ctx: ctx, in: in, env: env, strategy: strategy, composer: composer, scores: scores}
}

// Context returns the decision context.
func (t *Turn) Context() context.Context { return t.ctx }

// Input returns the decision input.
func (t *Turn) Input() Input { return t.in }

// Env returns the environment the behaviour may consult.
func (t *Turn) Env() Env { return t.env }

// Profile returns the deciding agent.
func (t *Turn) Profile() core.AgentProfile { return t.in.Profile }

// Send proposes a message. An empty receiver broadcasts to the group.
func (t *Turn) Send(receiverID string, topic core.Topic, content string) {
	t.out.Messages = append(t.out.Messages, core.NewMessage(t.in.Profile.ID, receiverID, topic, content, t.in.Time.Tick))
}

// SendAll proposes one copy of a message per receiver.
func (t *Turn) SendAll(receiverIDs []string, topic core.Topic, content string) {
	for _, id := range receiverIDs {
		if id != t.in.Profile.ID {
			t.Send(id, topic, content)
		}
	}
}

// Score returns the agent's current understanding of topic, including
// changes requested earlier in this turn.
func (t *Turn) Score(topic string) float64 {
	if s, ok := t.scores[topic]; ok {
		return s
	}
	return knowledge.DefaultScore
}

// Latest returns the most recently requested score, or the mean of the
// snapshot when nothing changed this turn.
func (t *Turn) Latest() float64 {
	if n := len(t.out.Knowledge); n > 0 {
		return t.Score(t.out.Knowledge[n-1].Topic)
	}
	if len(t.scores) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, s := range t.scores {
		sum += s
	}
	return sum / float64(len(t.scores))
}

// Learn requests a knowledge change and returns the resulting score.
func (t *Turn) Learn(topic string, delta float64, source, causeID string) float64 {
	updated := knowledge.Clamp(t.Score(topic) + delta)
	t.scores[topic] = updated
	t.out.Knowledge = append(t.out.Knowledge, knowledge.Change{
		AgentID: t.in.Profile.ID,
		Topic:   topic,
		Delta:   delta,
		Source:  source,
		CauseID: causeID,
	})
	return updated
}

// Defer records a behaviour state change that runs when the caller commits
// the decision.
func (t *Turn) Defer(fn func()) {
	t.out.Effects = append(t.out.Effects, fn)
}

// Roll reports true with probability p.
func (t *Turn) Roll(p float64) bool {
	if p <= 0 {
		return false
	}
	if t.in.Rand == nil {
		return p >= 1
	}
	return t.in.Rand.Float64() < p
}

// Float returns a uniform number in [0,1).
func (t *Turn) Float() float64 {
	if t.in.Rand == nil {
		return 0.5
	}
	return t.in.Rand.Float64()
}

// Pick returns a uniformly chosen option, or "" for none.
func (t *Turn) Pick(options []string) string {
	switch {
	case len(options) == 0:
		return ""
	case t.in.Rand == nil:
		return options[0]
	default:
		return options[t.in.Rand.Intn(len(options))]
	}
}

// Compose returns model written text for instruction, or fallback when no
// composer is attached, the budget is spent or the model failed. A failure
// mutes the composer for the rest of the turn and is reported in
// Output.Errors.
func (t *Turn) Compose(instruction, incoming, fallback string) string {
	if t.composer == nil || t.muted || t.ctx.Err() != nil {
		return fallback
	}
	text, err := t.composer.Compose(t.ctx, ComposeRequest{
		Profile:     t.in.Profile,
		Instruction: instruction,
		Incoming:    incoming,
		Context:     memory.Render(t.in.Recent, t.in.Summary),
		Time:        t.in.Time,
	})
	switch {
	case err == nil && text != "":
		return text
	case err == nil:
		return fallback
	case errors.Is(err, ErrBudgetExhausted):
		t.muted = true
		return fallback
	case t.ctx.Err() != nil:
		return fallback
	}
	t.muted = true
	var de *core.DecisionError
	if !errors.As(err, &de) {
		err = &core.DecisionError{AgentID: t.in.Profile.ID, Strategy: t.strategy, Err: err}
	}
	t.out.Errors = append(t.out.Errors, err)
	return fallback
}
