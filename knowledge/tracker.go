// Package knowledge tracks per-agent, per-topic understanding scores.
//
// Scores live in [0,1] and every change is timestamped with the tick that
// caused it. Randomness comes from an injected *rand.Rand so tests can fix
// a seed.
package knowledge

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// DefaultScore is the understanding assumed for an unseen topic.
const DefaultScore = 0.3

// Sources of knowledge changes.
const (
	SourceQuiz   = "quiz"
	SourceReview = "review"
	SourceForget = "forget"
	SourceSeed   = "seed"
)

// Change is a requested knowledge update.
type Change struct {
	AgentID string  `json:"agent_id"`
	Topic   string  `json:"topic"`
	Delta   float64 `json:"delta"`
	Source  string  `json:"source,omitempty"`
	CauseID string  `json:"cause_id,omitempty"`
}

type entry struct {
	score     float64
	updatedAt int64
	// day of the last quiz or review, -1 when never practiced
	practiced int
}

// Tracker holds the knowledge state of all agents.
type Tracker struct {
	mu     sync.RWMutex
	scores map[string]map[string]*entry
	day    int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTracker creates a tracker drawing variance from rng. A nil rng is
// seeded with 1.
func NewTracker(rng *rand.Rand) *Tracker {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Tracker{scores: make(map[string]map[string]*entry), rng: rng}
}

// Clamp limits v to [0,1].
func Clamp(v float64) float64 { return math.Max(0, math.Min(1, v)) }

func (t *Tracker) entryLocked(agentID, topic string) *entry {
	topics, ok := t.scores[agentID]
	if !ok {
		topics = make(map[string]*entry)
		t.scores[agentID] = topics
	}
	e, ok := topics[topic]
	if !ok {
		e = &entry{score: DefaultScore, practiced: -1}
		topics[topic] = e
	}
	return e
}

// Update applies new = clamp(old + delta) and returns the audit record.
func (t *Tracker) Update(agentID, topic string, delta float64, tick int64) core.KnowledgeRecord {
	return t.Apply(Change{AgentID: agentID, Topic: topic, Delta: delta}, tick)
}

// Apply is Update with source and cause attribution.
func (t *Tracker) Apply(c Change, tick int64) core.KnowledgeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(c.AgentID, c.Topic)
	old := e.score
	e.score = Clamp(old + c.Delta)
	e.updatedAt = tick
	if c.Source == SourceQuiz || c.Source == SourceReview {
		e.practiced = t.day
	}
	return core.KnowledgeRecord{
		AgentID:   c.AgentID,
		Topic:     c.Topic,
		Score:     e.score,
		Delta:     e.score - old,
		UpdatedAt: tick,
		Source:    c.Source,
		CauseID:   c.CauseID,
	}
}

// Seed installs persisted scores for an agent without emitting records.
func (t *Tracker) Seed(agentID string, scores map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, s := range scores {
		e := t.entryLocked(agentID, topic)
		e.score = Clamp(s)
	}
}

// Score returns the agent's understanding of topic.
func (t *Tracker) Score(agentID, topic string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.scores[agentID][topic]; ok {
		return e.score
	}
	return DefaultScore
}

// Snapshot returns a copy of topic -> score for the agent.
func (t *Tracker) Snapshot(agentID string) map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.scores[agentID]))
	for topic, e := range t.scores[agentID] {
		out[topic] = e.score
	}
	return out
}

// Remove forgets an agent.
func (t *Tracker) Remove(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scores, agentID)
}

// Variance draws a review variance in [-0.1, 0.1).
func (t *Tracker) Variance() float64 {
	t.rngMu.Lock()
	defer t.rngMu.Unlock()
	return t.rng.Float64()*0.2 - 0.1
}

// ForgetRate is the per-day retention factor of unpracticed topics.
const ForgetRate = 0.97

// AdvanceDay moves the tracker to dayIndex and decays every topic not
// practiced since an earlier day by ForgetRate^days, floored at 0.05.
// Records are returned ordered by agent and topic.
func (t *Tracker) AdvanceDay(dayIndex int, tick int64) []core.KnowledgeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dayIndex <= t.day {
		return nil
	}
	t.day = dayIndex
	agents := make([]string, 0, len(t.scores))
	for id := range t.scores {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	var out []core.KnowledgeRecord
	for _, id := range agents {
		topics := make([]string, 0, len(t.scores[id]))
		for topic := range t.scores[id] {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		for _, topic := range topics {
			e := t.scores[id][topic]
			if e.practiced < 0 {
				e.practiced = dayIndex
				continue
			}
			days := dayIndex - e.practiced
			if days <= 0 {
				continue
			}
			updated := math.Max(0.05, math.Min(0.95, e.score*math.Pow(ForgetRate, float64(days))))
			e.practiced = dayIndex
			if updated == e.score {
				continue
			}
			old := e.score
			e.score = updated
			e.updatedAt = tick
			out = append(out, core.KnowledgeRecord{
				AgentID: id, Topic: topic, Score: updated, Delta: updated - old, UpdatedAt: tick, Source: SourceForget,
			})
		}
	}
	return out
}
