package store

import (
	"context"
	"slices"
	"sync"

	"github.com/hupe1980/classmesh/core"
)

var _ core.Store = (*InMemoryStore)(nil)

// InMemoryStore is an in-process core.Store. It keeps every appended record
// in slices guarded by an RWMutex and copies on read so callers cannot
// mutate stored state.
//
// It enforces no retention limit. For runs that must survive a restart use
// the SQLite backend.
type InMemoryStore struct {
	mu          sync.RWMutex
	messages    []core.Message
	knowledge   []core.KnowledgeRecord
	memories    map[string][]core.MemoryEntry // agentID -> trail
	summaries   map[string]string
	deadLetters []core.DeadLetter
	events      []core.WorldEvent
	lastTick    int64
	closed      bool
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories:  make(map[string][]core.MemoryEntry),
		summaries: make(map[string]string),
	}
}

func (s *InMemoryStore) AppendMessage(_ context.Context, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) AppendKnowledge(_ context.Context, rec core.KnowledgeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.knowledge = append(s.knowledge, rec)
	return nil
}

// LoadAgentMemory returns the saved summary and the content of the most
// recent memory entries, oldest first.
func (s *InMemoryStore) LoadAgentMemory(_ context.Context, agentID string) (string, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.memories[agentID]
	if len(trail) > RecentMemoryLimit {
		trail = trail[len(trail)-RecentMemoryLimit:]
	}
	recent := make([]string, 0, len(trail))
	for _, e := range trail {
		recent = append(recent, e.Content)
	}
	return s.summaries[agentID], recent, nil
}

func (s *InMemoryStore) SaveAgentMemory(_ context.Context, agentID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.summaries[agentID] = summary
	return nil
}

func (s *InMemoryStore) AppendMemory(_ context.Context, entry core.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.memories[entry.AgentID] = append(s.memories[entry.AgentID], entry)
	return nil
}

func (s *InMemoryStore) AppendDeadLetter(_ context.Context, dl core.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

func (s *InMemoryStore) AppendWorldEvent(_ context.Context, ev core.WorldEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, ev)
	return nil
}

// LoadKnowledge returns the latest score per topic for the agent.
func (s *InMemoryStore) LoadKnowledge(_ context.Context, agentID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64)
	for _, rec := range s.knowledge {
		if rec.AgentID == agentID {
			out[rec.Topic] = rec.Score
		}
	}
	return out, nil
}

func (s *InMemoryStore) SetLastTick(_ context.Context, tick int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.lastTick = tick
	return nil
}

func (s *InMemoryStore) LastTick(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick, nil
}

// Close marks the store closed; later writes fail with ErrClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Messages returns a copy of every appended message.
func (s *InMemoryStore) Messages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// KnowledgeRecords returns a copy of every appended knowledge record.
func (s *InMemoryStore) KnowledgeRecords() []core.KnowledgeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.knowledge)
}

// DeadLetters returns a copy of every dead letter.
func (s *InMemoryStore) DeadLetters() []core.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.deadLetters)
}

// WorldEvents returns a copy of the world event log.
func (s *InMemoryStore) WorldEvents() []core.WorldEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}
