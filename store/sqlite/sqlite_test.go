package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/classmesh/core"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "classmesh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_MessagesAndWorldEvents(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	msg := core.NewMessage("t1", "", core.TopicLecture, "[math] fractions", 3)
	require.NoError(t, s.AppendMessage(ctx, msg))
	require.NoError(t, s.AppendMessage(ctx, msg), "duplicate ids are ignored")
	require.NoError(t, s.AppendWorldEvent(ctx, core.WorldEvent{Seq: 1, Tick: 3, Kind: core.WorldEventMessage, Visibility: core.VisibilityTrue, ActorID: "t1", Message: &msg}))
	require.NoError(t, s.AppendWorldEvent(ctx, core.WorldEvent{Seq: 2, Tick: 3, Kind: core.WorldEventSceneChange, Detail: "cafeteria"}))
	require.NoError(t, s.AppendDeadLetter(ctx, core.DeadLetter{Message: msg, RecipientID: "s1", Reason: "queue_overflow", Tick: 3}))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM world_events`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestStore_AgentMemory(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	summary, recent, err := s.LoadAgentMemory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Empty(t, recent)

	for i, c := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMemory(ctx, core.MemoryEntry{AgentID: "s1", Direction: "in", Content: c, Tick: int64(i)}))
	}
	require.NoError(t, s.SaveAgentMemory(ctx, "s1", "first"))
	require.NoError(t, s.SaveAgentMemory(ctx, "s1", "second"))

	summary, recent, err = s.LoadAgentMemory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "second", summary)
	assert.Equal(t, []string{"one", "two", "three"}, recent)
}

func TestStore_KnowledgeLatestWins(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.AppendKnowledge(ctx, core.KnowledgeRecord{AgentID: "s1", Topic: "c1", Score: 0.3, UpdatedAt: 1}))
	require.NoError(t, s.AppendKnowledge(ctx, core.KnowledgeRecord{AgentID: "s1", Topic: "c2", Score: 0.4, UpdatedAt: 1}))
	require.NoError(t, s.AppendKnowledge(ctx, core.KnowledgeRecord{AgentID: "s1", Topic: "c1", Score: 0.7, Delta: 0.4, UpdatedAt: 2, Source: "quiz", CauseID: "m1"}))

	scores, err := s.LoadKnowledge(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"c1": 0.7, "c2": 0.4}, scores)
}

func TestStore_LastTickSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sim.db")
	s, err := Open(path)
	require.NoError(t, err)

	tick, err := s.LastTick(ctx)
	require.NoError(t, err)
	assert.Zero(t, tick)
	require.NoError(t, s.SetLastTick(ctx, 17))
	require.NoError(t, s.SetLastTick(ctx, 18))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	tick, err = s.LastTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(18), tick)
}

func TestIsConflictError(t *testing.T) {
	assert.True(t, IsConflictError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsConflictError(errors.New("no such table")))
	assert.False(t, IsConflictError(nil))
}
