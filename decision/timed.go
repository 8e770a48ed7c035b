package decision

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/classmesh/core"
)

// PanicError reports a strategy that panicked.
type PanicError struct {
	AgentID string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("decision panic for %s: %v", e.AgentID, e.Value)
}

// Timed bounds a strategy with a per-call deadline. The wrapped call runs
// in its own goroutine; when the deadline passes Timed returns a
// DecisionTimeoutError at once and discards whatever the call produces
// later. A zero Timeout disables the bound.
type Timed struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Name implements Strategy.
func (t Timed) Name() string { return t.Strategy.Name() }

type result struct {
	out Output
	err error
}

// Decide implements Strategy.
func (t Timed) Decide(ctx context.Context, in Input) (Output, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	// Time spent before the decision, such as context compaction, counts
	// against the same deadline.
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return Output{}, t.timeoutError(in)
		}
		return Output{}, err
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &PanicError{AgentID: in.Profile.ID, Value: r, Stack: debug.Stack()}}
			}
		}()
		out, err := t.Strategy.Decide(ctx, in)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		// A result that lands after the deadline is late even without an error.
		if ctx.Err() == context.DeadlineExceeded {
			return Output{}, t.timeoutError(in)
		}
		return r.out, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Output{}, t.timeoutError(in)
		}
		return Output{}, ctx.Err()
	}
}

func (t Timed) timeoutError(in Input) error {
	return &core.DecisionTimeoutError{AgentID: in.Profile.ID, Tick: in.Time.Tick, Timeout: t.Timeout}
}
