// Package world models where agents are: scenes, the classroom seat grid and
// the teacher's patrol row. Perception derives distances from it.
package world

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// Scene identifiers used by routine transitions.
const (
	SceneClassroom = "classroom"
	SceneCafeteria = "cafeteria"
	SceneCorridor  = "corridor"
)

// Layout is the classroom seat grid. Seat ids are "r{row}c{col}", 1-based.
type Layout struct {
	Rows       int      `yaml:"rows" json:"rows"`
	Cols       int      `yaml:"cols" json:"cols"`
	EmptySeats []string `yaml:"empty_seats" json:"empty_seats,omitempty"`
}

// Config configures the world model.
type Config struct {
	Layout *Layout  `yaml:"layout" json:"layout,omitempty"`
	Scenes []string `yaml:"scenes" json:"scenes"`
	Seats  SeatPlan `yaml:"seats" json:"seats,omitempty"`
}

// SeatPlan pins agents to explicit seats; unlisted students fill the
// remaining seats in roster order.
type SeatPlan map[string]string

// DefaultConfig returns a 4x5 classroom with the three routine scenes.
func DefaultConfig() Config {
	return Config{
		Layout: &Layout{Rows: 4, Cols: 5},
		Scenes: []string{SceneClassroom, SceneCafeteria, SceneCorridor},
	}
}

// Validate checks the layout dimensions.
func (c Config) Validate() error {
	if c.Layout != nil && (c.Layout.Rows <= 0 || c.Layout.Cols <= 0) {
		return core.NewConfigError("world.layout", "rows and cols must be positive")
	}
	return nil
}

// SeatID formats a 0-based grid position as a seat id.
func SeatID(row, col int) string { return fmt.Sprintf("r%dc%d", row+1, col+1) }

// Location is the position of an agent. Row and Col are 0-based and only
// meaningful when Seat is set.
type Location struct {
	Scene string `json:"scene"`
	Seat  string `json:"seat,omitempty"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
}

// Seated reports whether the location has a seat.
func (l Location) Seated() bool { return l.Seat != "" }

type position struct{ row, col int }

// World tracks agent locations. It is safe for concurrent use.
type World struct {
	mu        sync.RWMutex
	layout    *Layout
	scenes    []string
	plan      SeatPlan
	seats     map[string]position
	seatOrder []string
	locations map[string]Location
	patrolRow int
}

// New builds a world from cfg.
func New(cfg Config) *World {
	w := &World{
		layout:    cfg.Layout,
		scenes:    slices.Clone(cfg.Scenes),
		plan:      maps.Clone(cfg.Seats),
		seats:     make(map[string]position),
		locations: make(map[string]Location),
		patrolRow: -1,
	}
	if len(w.scenes) == 0 {
		w.scenes = []string{SceneClassroom}
	}
	if w.layout != nil {
		for r := 0; r < w.layout.Rows; r++ {
			for c := 0; c < w.layout.Cols; c++ {
				id := SeatID(r, c)
				if slices.Contains(w.layout.EmptySeats, id) {
					continue
				}
				w.seats[id] = position{r, c}
				w.seatOrder = append(w.seatOrder, id)
			}
		}
	}
	return w
}

// HasLayout reports whether distances can be computed.
func (w *World) HasLayout() bool { return w.layout != nil }

// HasScene reports whether scene is configured.
func (w *World) HasScene(scene string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Contains(w.scenes, scene)
}

// Place puts an agent into the classroom. Students take their planned seat or
// the next free one; teachers stand at the front without a seat.
func (w *World) Place(agentID string, role core.Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc := Location{Scene: SceneClassroom, Row: -1, Col: -1}
	if role == core.RoleStudent && w.layout != nil {
		seat := w.plan[agentID]
		if _, ok := w.seats[seat]; !ok || w.seatTaken(seat, agentID) {
			seat = w.freeSeat(agentID)
		}
		if seat != "" {
			p := w.seats[seat]
			loc = Location{Scene: SceneClassroom, Seat: seat, Row: p.row, Col: p.col}
		}
	}
	w.locations[agentID] = loc
}

// Remove forgets an agent's location and frees its seat.
func (w *World) Remove(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locations, agentID)
}

func (w *World) seatTaken(seat, except string) bool {
	for id, loc := range w.locations {
		if id != except && loc.Seat == seat {
			return true
		}
	}
	return false
}

func (w *World) freeSeat(agentID string) string {
	for _, s := range w.seatOrder {
		if !w.seatTaken(s, agentID) && !w.planned(s, agentID) {
			return s
		}
	}
	return ""
}

func (w *World) planned(seat, except string) bool {
	for id, s := range w.plan {
		if id != except && s == seat {
			return true
		}
	}
	return false
}

// Location returns the agent's current location.
func (w *World) Location(agentID string) (Location, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	loc, ok := w.locations[agentID]
	return loc, ok
}

// MoveAll moves every listed agent into scene, keeping their seats.
// It returns the agents that actually changed scene.
func (w *World) MoveAll(agentIDs []string, scene string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.scenes, scene) {
		return nil
	}
	var moved []string
	for _, id := range agentIDs {
		loc, ok := w.locations[id]
		if !ok || loc.Scene == scene {
			continue
		}
		loc.Scene = scene
		w.locations[id] = loc
		moved = append(moved, id)
	}
	return moved
}

// Distance returns the Manhattan seat distance between two agents. ok is
// false when either agent is unseated or they are in different scenes.
func (w *World) Distance(a, b string) (int, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.layout == nil {
		return 0, false
	}
	la, okA := w.locations[a]
	lb, okB := w.locations[b]
	if !okA || !okB || la.Scene != lb.Scene || !la.Seated() || !lb.Seated() {
		return 0, false
	}
	return abs(la.Row-lb.Row) + abs(la.Col-lb.Col), true
}

// Adjacent reports whether two seated agents sit next to each other.
func (w *World) Adjacent(a, b string) bool {
	d, ok := w.Distance(a, b)
	return ok && d == 1
}

// Rows returns the number of seat rows, or 0 without a layout.
func (w *World) Rows() int {
	if w.layout == nil {
		return 0
	}
	return w.layout.Rows
}

// SetPatrolRow sets the row the teacher is watching; -1 clears it.
func (w *World) SetPatrolRow(row int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.patrolRow = row
}

// Visible reports whether the agent sits in the patrolled row.
func (w *World) Visible(agentID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	loc, ok := w.locations[agentID]
	return ok && w.patrolRow >= 0 && loc.Seated() && loc.Row == w.patrolRow
}

// StudentsInRow returns the agents seated in row, ordered by column.
func (w *World) StudentsInRow(row int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var ids []string
	for id, loc := range w.locations {
		if loc.Seated() && loc.Row == row {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b string) int { return w.locations[a].Col - w.locations[b].Col })
	return ids
}

// Snapshot describes the world for the query surface.
type Snapshot struct {
	Layout    *Layout             `json:"layout,omitempty"`
	Scenes    []string            `json:"scenes"`
	Locations map[string]Location `json:"locations"`
	PatrolRow int                 `json:"patrol_row"`
}

// Snapshot returns a copy of the current state.
func (w *World) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Snapshot{
		Layout:    w.layout,
		Scenes:    slices.Clone(w.scenes),
		Locations: maps.Clone(w.locations),
		PatrolRow: w.patrolRow,
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
