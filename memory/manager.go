package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
)

// DefaultMaxItems is the default context window cap.
const DefaultMaxItems = 12

// Direction tags an item relative to its owner.
type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionEvent Direction = "event"
)

func (d Direction) label() string {
	switch d {
	case DirectionIn:
		return "inbound"
	case DirectionOut:
		return "outbound"
	default:
		return "event"
	}
}

// Item is one entry of a context window.
type Item struct {
	Direction Direction  `json:"direction"`
	SenderID  string     `json:"sender_id,omitempty"`
	Topic     core.Topic `json:"topic,omitempty"`
	Content   string     `json:"content"`
	Tick      int64      `json:"tick"`
}

// FromMessage builds an item from a delivered or emitted message.
func FromMessage(msg core.Message, dir Direction) Item {
	return Item{Direction: dir, SenderID: msg.SenderID, Topic: msg.Topic, Content: msg.Content, Tick: msg.Tick}
}

// Window is one agent's bounded context.
type Window struct {
	mu      sync.Mutex
	summary string
	items   []Item
}

// Options configures a Manager.
type Options struct {
	MaxItems  int
	Compactor Compactor
	// CompactTimeout bounds one compaction on top of the caller's deadline.
	// A compaction that misses either is abandoned for the naive summary.
	CompactTimeout time.Duration
	// MaxSummaryRunes caps the naive summary, see NaiveCompactor.
	MaxSummaryRunes int
	Store           core.Store // optional; receives memory entries and summaries
	Failures        *core.FailureCounters
	Logger          logging.Logger
}

// Manager holds the context windows of all agents.
type Manager struct {
	opts    Options
	mu      sync.RWMutex
	windows map[string]*Window
}

// NewManager creates a context manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{MaxItems: DefaultMaxItems, Compactor: NaiveCompactor{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Compactor == nil {
		opts.Compactor = NaiveCompactor{}
	}
	if naive, ok := opts.Compactor.(NaiveCompactor); ok && naive.MaxRunes == 0 {
		opts.Compactor = NaiveCompactor{MaxRunes: opts.MaxSummaryRunes}
	}
	if opts.Failures == nil {
		opts.Failures = core.NewFailureCounters()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Manager{opts: opts, windows: make(map[string]*Window)}
}

// MaxItems returns the configured cap.
func (m *Manager) MaxItems() int { return m.opts.MaxItems }

func (m *Manager) window(agentID string) *Window {
	m.mu.RLock()
	w, ok := m.windows[agentID]
	m.mu.RUnlock()
	if ok {
		return w
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok = m.windows[agentID]; !ok {
		w = &Window{}
		m.windows[agentID] = w
	}
	return w
}

// Seed loads the durable summary and recent trail of an agent at start.
// Recent entries are folded into the summary rather than replayed as items.
func (m *Manager) Seed(ctx context.Context, agentID string) error {
	w := m.window(agentID)
	if m.opts.Store == nil {
		return nil
	}
	summary, recent, err := m.opts.Store.LoadAgentMemory(ctx, agentID)
	if err != nil {
		return err
	}
	parts := make([]string, 0, len(recent)+1)
	if summary != "" {
		parts = append(parts, summary)
	}
	parts = append(parts, recent...)
	w.mu.Lock()
	w.summary = strings.Join(parts, " | ")
	w.mu.Unlock()
	return nil
}

// Observe appends items to the agent's window. When the cap is exceeded the
// oldest items are folded into the summary before Observe returns.
func (m *Manager) Observe(ctx context.Context, agentID string, items ...Item) {
	if len(items) == 0 {
		return
	}
	w := m.window(agentID)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, it := range items {
		w.items = append(w.items, it)
		m.persist(ctx, agentID, it)
		if len(w.items) > m.opts.MaxItems {
			m.compact(ctx, agentID, w)
		}
	}
}

// compact folds everything except the newest half of the cap. Callers hold w.mu.
func (m *Manager) compact(ctx context.Context, agentID string, w *Window) {
	keep := m.opts.MaxItems / 2
	fold := slices.Clone(w.items[:len(w.items)-keep])
	summary, err := m.compactWithin(ctx, agentID, w.summary, fold)
	if err != nil {
		m.opts.Logger.Warn("memory.compact.failed", "agent_id", agentID, "error", err.Error())
		summary, _ = m.naive().Compact(ctx, agentID, w.summary, fold)
	}
	if strings.HasPrefix(summary, "...") {
		m.opts.Logger.Debug("memory.summary.trimmed", "agent_id", agentID, "max_runes", m.naive().MaxRunes)
	}
	w.summary = summary
	w.items = append([]Item(nil), w.items[len(w.items)-keep:]...)
	if m.opts.Store != nil {
		if err := m.opts.Store.SaveAgentMemory(ctx, agentID, summary); err != nil {
			m.opts.Failures.Inc(core.FailurePersistence)
			m.opts.Logger.Warn("store.write.dropped", "op", "save_agent_memory", "agent_id", agentID, "error", err.Error())
		}
	}
	m.opts.Logger.Debug("memory.compacted", "agent_id", agentID, "folded", len(fold), "kept", keep)
}

func (m *Manager) naive() NaiveCompactor {
	return NaiveCompactor{MaxRunes: m.opts.MaxSummaryRunes}
}

// compactWithin runs the compactor until ctx or CompactTimeout expires. An
// abandoned compactor finishes in the background and its result is dropped.
func (m *Manager) compactWithin(ctx context.Context, agentID, summary string, fold []Item) (string, error) {
	if naive, ok := m.opts.Compactor.(NaiveCompactor); ok {
		return naive.Compact(ctx, agentID, summary, fold)
	}
	if m.opts.CompactTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.CompactTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("compaction skipped: %w", err)
	}
	type result struct {
		summary string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("compactor panic: %v", rec)}
			}
		}()
		out, err := m.opts.Compactor.Compact(ctx, agentID, summary, fold)
		done <- result{summary: out, err: err}
	}()
	select {
	case r := <-done:
		return r.summary, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("compaction abandoned: %w", ctx.Err())
	}
}

func (m *Manager) persist(ctx context.Context, agentID string, it Item) {
	if m.opts.Store == nil {
		return
	}
	err := m.opts.Store.AppendMemory(ctx, core.MemoryEntry{
		AgentID:   agentID,
		Direction: string(it.Direction),
		Content:   it.Content,
		Tick:      it.Tick,
	})
	if err != nil {
		m.opts.Failures.Inc(core.FailurePersistence)
		m.opts.Logger.Warn("store.write.dropped", "op", "append_memory", "agent_id", agentID, "error", err.Error())
	}
}

// Snapshot returns a copy of the agent's recent items and its summary.
func (m *Manager) Snapshot(agentID string) ([]Item, string) {
	m.mu.RLock()
	w, ok := m.windows[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ""
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Item(nil), w.items...), w.summary
}

// Len returns the live item count of an agent's window.
func (m *Manager) Len(agentID string) int {
	items, _ := m.Snapshot(agentID)
	return len(items)
}

// Render formats the window as prompt text.
func (m *Manager) Render(agentID string) string {
	items, summary := m.Snapshot(agentID)
	return Render(items, summary)
}

// Render formats items and summary as `summary:` / `inbound:` / `outbound:` lines.
func Render(items []Item, summary string) string {
	lines := make([]string, 0, len(items)+1)
	if summary != "" {
		lines = append(lines, "summary: "+summary)
	}
	for _, it := range items {
		lines = append(lines, it.Direction.label()+": "+it.Content)
	}
	return strings.Join(lines, "\n")
}

// Remove forgets an agent's window.
func (m *Manager) Remove(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, agentID)
}
