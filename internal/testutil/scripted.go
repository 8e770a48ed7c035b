package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/decision"
)

// Step is one scripted reaction. Messages are copied into the output with
// the deciding agent as sender.
type Step struct {
	Messages []core.Message
	Delay    time.Duration
	Err      error
}

// Scripted is a decision strategy that replays fixed steps. Ticks without
// a step produce nothing. It records every input it was called with.
type Scripted struct {
	mu     sync.Mutex
	byTick map[int64]Step
	always *Step
	calls  []decision.Input
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{byTick: make(map[int64]Step)}
}

// At sets the reaction for tick (chainable).
func (s *Scripted) At(tick int64, step Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTick[tick] = step
	return s
}

// Always sets the reaction for ticks without their own step (chainable).
func (s *Scripted) Always(step Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always = &step
	return s
}

// Say is a shorthand for a step sending one message.
func Say(receiver string, topic core.Topic, content string) Step {
	return Step{Messages: []core.Message{{ReceiverID: receiver, Topic: topic, Content: content}}}
}

// Calls returns the recorded inputs.
func (s *Scripted) Calls() []decision.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]decision.Input(nil), s.calls...)
}

// Name implements decision.Strategy.
func (s *Scripted) Name() string { return "scripted" }

// Decide implements decision.Strategy.
func (s *Scripted) Decide(ctx context.Context, in decision.Input) (decision.Output, error) {
	s.mu.Lock()
	s.calls = append(s.calls, in)
	step, ok := s.byTick[in.Time.Tick]
	if !ok && s.always != nil {
		step, ok = *s.always, true
	}
	s.mu.Unlock()
	if !ok {
		return decision.Output{}, nil
	}

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return decision.Output{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return decision.Output{}, step.Err
	}
	var out decision.Output
	for _, m := range step.Messages {
		m.SenderID = in.Profile.ID
		m.Tick = in.Time.Tick
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}
