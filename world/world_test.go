package world

import (
	"testing"

	"github.com/hupe1980/classmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorld_PlacesStudentsInRosterOrder(t *testing.T) {
	w := New(Config{Layout: &Layout{Rows: 2, Cols: 3, EmptySeats: []string{"r1c2"}}, Scenes: []string{SceneClassroom}})
	w.Place("s1", core.RoleStudent)
	w.Place("s2", core.RoleStudent)
	w.Place("t1", core.RoleTeacher)

	l1, _ := w.Location("s1")
	l2, _ := w.Location("s2")
	lt, _ := w.Location("t1")
	assert.Equal(t, "r1c1", l1.Seat)
	assert.Equal(t, "r1c3", l2.Seat)
	assert.False(t, lt.Seated())

	d, ok := w.Distance("s1", "s2")
	require.True(t, ok)
	assert.Equal(t, 2, d)

	_, ok = w.Distance("s1", "t1")
	assert.False(t, ok)
}

func TestWorld_SeatPlan(t *testing.T) {
	w := New(Config{Layout: &Layout{Rows: 3, Cols: 3}, Seats: SeatPlan{"s2": "r1c1"}})
	w.Place("s1", core.RoleStudent)
	w.Place("s2", core.RoleStudent)
	l1, _ := w.Location("s1")
	l2, _ := w.Location("s2")
	assert.Equal(t, "r1c2", l1.Seat)
	assert.Equal(t, "r1c1", l2.Seat)
	assert.True(t, w.Adjacent("s1", "s2"))
}

func TestWorld_DifferentScenesHaveNoDistance(t *testing.T) {
	w := New(DefaultConfig())
	w.Place("s1", core.RoleStudent)
	w.Place("s2", core.RoleStudent)
	moved := w.MoveAll([]string{"s1"}, SceneCafeteria)
	assert.Equal(t, []string{"s1"}, moved)
	_, ok := w.Distance("s1", "s2")
	assert.False(t, ok)

	assert.Nil(t, w.MoveAll([]string{"s2"}, "gym"))
}

func TestWorld_PatrolRow(t *testing.T) {
	w := New(Config{Layout: &Layout{Rows: 2, Cols: 2}})
	for _, id := range []string{"a", "b", "c"} {
		w.Place(id, core.RoleStudent)
	}
	assert.False(t, w.Visible("a"))
	w.SetPatrolRow(1)
	assert.True(t, w.Visible("c"))
	assert.False(t, w.Visible("a"))
	assert.Equal(t, []string{"a", "b"}, w.StudentsInRow(0))
}

func TestWorld_NoLayout(t *testing.T) {
	w := New(Config{})
	w.Place("s1", core.RoleStudent)
	w.Place("s2", core.RoleStudent)
	_, ok := w.Distance("s1", "s2")
	assert.False(t, ok)
	assert.False(t, w.HasLayout())
	assert.Equal(t, 0, w.Rows())
}
