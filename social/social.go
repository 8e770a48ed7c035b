// Package social holds friend, conflict and seatmate relations and uses them
// to bias peer choice.
package social

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// Pair relates two agents symmetrically.
type Pair [2]string

// Config lists the relations of a scenario.
type Config struct {
	Friends   []Pair `yaml:"friends" json:"friends,omitempty"`
	Conflicts []Pair `yaml:"conflicts" json:"conflicts,omitempty"`
	Seatmates []Pair `yaml:"seatmates" json:"seatmates,omitempty"`
}

// Validate rejects self relations.
func (c Config) Validate() error {
	for name, pairs := range map[string][]Pair{"friends": c.Friends, "conflicts": c.Conflicts, "seatmates": c.Seatmates} {
		for i, p := range pairs {
			if p[0] == "" || p[1] == "" || p[0] == p[1] {
				return core.NewConfigError(fmt.Sprintf("social.%s[%d]", name, i), "needs two distinct agent ids")
			}
		}
	}
	return nil
}

type relation map[string]map[string]bool

func (r relation) add(a, b string) {
	if r[a] == nil {
		r[a] = map[string]bool{}
	}
	if r[b] == nil {
		r[b] = map[string]bool{}
	}
	r[a][b] = true
	r[b][a] = true
}

// Graph is the social graph of a run.
type Graph struct {
	mu        sync.RWMutex
	friends   relation
	conflicts relation
	seatmates relation
}

// Build creates a graph from cfg, skipping pairs that name agents outside ids.
func Build(cfg Config, ids []string) *Graph {
	g := &Graph{friends: relation{}, conflicts: relation{}, seatmates: relation{}}
	load := func(r relation, pairs []Pair) {
		for _, p := range pairs {
			if slices.Contains(ids, p[0]) && slices.Contains(ids, p[1]) {
				r.add(p[0], p[1])
			}
		}
	}
	load(g.friends, cfg.Friends)
	load(g.conflicts, cfg.Conflicts)
	load(g.seatmates, cfg.Seatmates)
	return g
}

// AddSeatmates records seat neighbours derived from the classroom layout.
func (g *Graph) AddSeatmates(pairs ...Pair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range pairs {
		if p[0] != p[1] {
			g.seatmates.add(p[0], p[1])
		}
	}
}

// Weight returns the preference of a for b: 1, +1 when friends, +0.5 when
// seatmates, then x0.4 when in conflict.
func (g *Graph) Weight(a, b string) float64 {
	if g == nil {
		return 1
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	w := 1.0
	if g.friends[a][b] {
		w++
	}
	if g.seatmates[a][b] {
		w += 0.5
	}
	if g.conflicts[a][b] {
		w *= 0.4
	}
	return w
}

// PickPeer draws one candidate with probability proportional to Weight.
// It returns "" for no candidates.
func (g *Graph) PickPeer(agentID string, candidates []string, rng *rand.Rand) string {
	if len(candidates) == 0 {
		return ""
	}
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		weights[i] = g.Weight(agentID, c)
		total += weights[i]
	}
	threshold := 0.5 * total
	if rng != nil {
		threshold = rng.Float64() * total
	}
	cumulative := 0.0
	for i, c := range candidates {
		cumulative += weights[i]
		if cumulative >= threshold {
			return c
		}
	}
	return candidates[len(candidates)-1]
}
