package core

import "context"

// DeadLetter is an inbound entry that never reached its recipient.
type DeadLetter struct {
	Message     Message `json:"message"`
	RecipientID string  `json:"recipient_id"`
	Reason      string  `json:"reason"`
	Tick        int64   `json:"tick"`
}

// MemoryEntry is one line of an agent's durable memory trail.
type MemoryEntry struct {
	AgentID   string `json:"agent_id"`
	Direction string `json:"direction"`
	Content   string `json:"content"`
	Tick      int64  `json:"tick"`
}

// Store is the persistence collaborator. Writes are append-only and may be
// buffered, but a message must be recorded before any knowledge update it
// caused. Implementations must be safe for concurrent use.
type Store interface {
	AppendMessage(ctx context.Context, msg Message) error
	AppendKnowledge(ctx context.Context, rec KnowledgeRecord) error
	LoadAgentMemory(ctx context.Context, agentID string) (summary string, recent []string, err error)
	SaveAgentMemory(ctx context.Context, agentID, summary string) error

	AppendMemory(ctx context.Context, entry MemoryEntry) error
	AppendDeadLetter(ctx context.Context, dl DeadLetter) error
	AppendWorldEvent(ctx context.Context, ev WorldEvent) error
	LoadKnowledge(ctx context.Context, agentID string) (map[string]float64, error)
	SetLastTick(ctx context.Context, tick int64) error
	LastTick(ctx context.Context) (int64, error)
	Close() error
}
