// Package sqlite provides a durable core.Store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/store"
)

var _ core.Store = (*Store)(nil)

// Store implements core.Store using SQLite. Every write is a single
// statement, so callers that need ordering wrap it in a store.AsyncWriter.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and initialises the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps the append order of the single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_id TEXT,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		visibility TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_tick ON messages(tick);

	CREATE TABLE IF NOT EXISTS message_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		content TEXT NOT NULL,
		tick INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_message_events_agent ON message_events(agent_id, id);

	CREATE TABLE IF NOT EXISTS agent_memory (
		agent_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sender_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		content TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_knowledge (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		score REAL NOT NULL,
		delta REAL NOT NULL,
		updated_at INTEGER NOT NULL,
		source TEXT,
		cause_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_agent_knowledge_agent ON agent_knowledge(agent_id, topic, id);

	CREATE TABLE IF NOT EXISTS sim_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		visibility TEXT,
		actor_id TEXT,
		observer_id TEXT,
		message_id TEXT,
		topic TEXT,
		content TEXT,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_world_events_tick ON world_events(tick);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) AppendMessage(ctx context.Context, msg core.Message) error {
	query := `
	INSERT INTO messages (id, seq, tick, sender_id, receiver_id, topic, content, visibility, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, int64(msg.Seq), msg.Tick, msg.SenderID, nullable(msg.ReceiverID),
		string(msg.Topic), msg.Content, string(msg.Visibility), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) AppendKnowledge(ctx context.Context, rec core.KnowledgeRecord) error {
	query := `
	INSERT INTO agent_knowledge (agent_id, topic, score, delta, updated_at, source, cause_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.AgentID, rec.Topic, rec.Score, rec.Delta, rec.UpdatedAt,
		nullable(rec.Source), nullable(rec.CauseID),
	)
	if err != nil {
		return fmt.Errorf("insert knowledge: %w", err)
	}
	return nil
}

// LoadAgentMemory returns the saved summary and up to store.RecentMemoryLimit
// of the agent's latest memory entries, oldest first.
func (s *Store) LoadAgentMemory(ctx context.Context, agentID string) (string, []string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM agent_memory WHERE agent_id = ?`, agentID).Scan(&summary)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("load summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content FROM (
			SELECT id, content FROM message_events WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, agentID, store.RecentMemoryLimit)
	if err != nil {
		return "", nil, fmt.Errorf("load memory entries: %w", err)
	}
	defer rows.Close()

	var recent []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return "", nil, fmt.Errorf("scan memory entry: %w", err)
		}
		recent = append(recent, content)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate memory entries: %w", err)
	}
	return summary, recent, nil
}

func (s *Store) SaveAgentMemory(ctx context.Context, agentID, summary string) error {
	query := `
	INSERT INTO agent_memory (agent_id, summary, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(agent_id) DO UPDATE SET
		summary = excluded.summary,
		updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, agentID, summary, time.Now().Unix()); err != nil {
		return fmt.Errorf("save agent memory: %w", err)
	}
	return nil
}

func (s *Store) AppendMemory(ctx context.Context, entry core.MemoryEntry) error {
	query := `INSERT INTO message_events (agent_id, direction, content, tick) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, entry.AgentID, entry.Direction, entry.Content, entry.Tick); err != nil {
		return fmt.Errorf("insert memory entry: %w", err)
	}
	return nil
}

func (s *Store) AppendDeadLetter(ctx context.Context, dl core.DeadLetter) error {
	query := `
	INSERT INTO dead_letters (message_id, recipient_id, reason, tick, sender_id, topic, content)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		dl.Message.ID, dl.RecipientID, dl.Reason, dl.Tick,
		dl.Message.SenderID, string(dl.Message.Topic), dl.Message.Content,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *Store) AppendWorldEvent(ctx context.Context, ev core.WorldEvent) error {
	var messageID, topic, content any
	if ev.Message != nil {
		messageID, topic, content = ev.Message.ID, string(ev.Message.Topic), ev.Message.Content
	}
	query := `
	INSERT INTO world_events (seq, tick, kind, visibility, actor_id, observer_id, message_id, topic, content, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		int64(ev.Seq), ev.Tick, string(ev.Kind), nullable(string(ev.Visibility)),
		nullable(ev.ActorID), nullable(ev.ObserverID), messageID, topic, content, nullable(ev.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert world event: %w", err)
	}
	return nil
}

// LoadKnowledge returns the latest score per topic for the agent.
func (s *Store) LoadKnowledge(ctx context.Context, agentID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.topic, k.score FROM agent_knowledge k
		JOIN (
			SELECT topic, MAX(id) AS id FROM agent_knowledge WHERE agent_id = ? GROUP BY topic
		) latest ON latest.id = k.id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var topic string
		var score float64
		if err := rows.Scan(&topic, &score); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		out[topic] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge: %w", err)
	}
	return out, nil
}

const lastTickKey = "last_tick"

func (s *Store) SetLastTick(ctx context.Context, tick int64) error {
	query := `
	INSERT INTO sim_state (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, lastTickKey, strconv.FormatInt(tick, 10)); err != nil {
		return fmt.Errorf("set last tick: %w", err)
	}
	return nil
}

// LastTick returns the last committed tick, or 0 for a fresh database.
func (s *Store) LastTick(ctx context.Context) (int64, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sim_state WHERE key = ?`, lastTickKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load last tick: %w", err)
	}
	tick, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last tick %q: %w", v, err)
	}
	return tick, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsConflictError reports SQLITE_BUSY and "database is locked" errors,
// both of which are worth retrying.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
