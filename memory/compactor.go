package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/model"
)

// Compactor folds items into a rolling summary.
type Compactor interface {
	Compact(ctx context.Context, agentID, summary string, items []Item) (string, error)
}

// CompactorFunc adapts a function to Compactor.
type CompactorFunc func(ctx context.Context, agentID, summary string, items []Item) (string, error)

// Compact implements Compactor.
func (f CompactorFunc) Compact(ctx context.Context, agentID, summary string, items []Item) (string, error) {
	return f(ctx, agentID, summary, items)
}

// DefaultMaxSummaryRunes bounds a naive summary when no cap is configured.
const DefaultMaxSummaryRunes = 2000

// NaiveCompactor appends the folded items to the summary as `a | b | c`.
//
// MaxRunes caps the summary length. When the cap is hit the oldest text is
// cut and the summary starts with "...". Zero means DefaultMaxSummaryRunes
// and a negative value keeps the whole summary.
type NaiveCompactor struct {
	MaxRunes int
}

// Compact implements Compactor.
func (c NaiveCompactor) Compact(_ context.Context, _ string, summary string, items []Item) (string, error) {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Content != "" {
			parts = append(parts, it.Content)
		}
	}
	out := strings.TrimSpace(summary + " " + strings.Join(parts, " | "))
	limit := c.MaxRunes
	if limit == 0 {
		limit = DefaultMaxSummaryRunes
	}
	if r := []rune(out); limit > 0 && len(r) > limit {
		out = "..." + string(r[len(r)-limit:])
	}
	return out, nil
}

// ModelCompactor asks a language model to condense the summary and the
// folded items. Failures, an exhausted budget or an empty reply fall back to
// the naive strategy.
type ModelCompactor struct {
	model    model.Model
	fallback Compactor
	limiter  *core.ModelLimiter
	logger   logging.Logger
}

// ModelCompactorOptions configures a ModelCompactor.
type ModelCompactorOptions struct {
	Fallback Compactor
	Limiter  *core.ModelLimiter
	Logger   logging.Logger
}

// NewModelCompactor creates a model-assisted compactor.
func NewModelCompactor(m model.Model, optFns ...func(o *ModelCompactorOptions)) *ModelCompactor {
	opts := ModelCompactorOptions{Fallback: NaiveCompactor{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelCompactor{
		model:    m,
		fallback: opts.Fallback,
		limiter:  opts.Limiter,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

const compactInstructions = "You maintain the long-term memory of a classroom participant. " +
	"Merge the existing summary and the new lines into one short paragraph of at most 80 words. " +
	"Keep names, topics and open questions. Reply with the summary only."

// Compact implements Compactor.
func (c *ModelCompactor) Compact(ctx context.Context, agentID, summary string, items []Item) (string, error) {
	if c.model == nil || !c.limiter.TryAcquire() {
		return c.fallback.Compact(ctx, agentID, summary, items)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "existing summary: %s\nnew lines:\n", summary)
	for _, it := range items {
		fmt.Fprintf(&b, "%s: %s\n", it.Direction.label(), it.Content)
	}
	resp, err := model.Collect(ctx, c.model, model.Request{
		Instructions: compactInstructions,
		Messages:     []model.Message{{Role: model.RoleUser, Content: b.String()}},
	})
	if err == nil && strings.TrimSpace(resp.Message.Content) != "" {
		return strings.TrimSpace(resp.Message.Content), nil
	}
	if err == nil {
		err = model.ErrNoResponse
	}
	c.logger.Warn("memory.compact.fallback", "agent_id", agentID, "error", err.Error())
	return c.fallback.Compact(ctx, agentID, summary, items)
}
