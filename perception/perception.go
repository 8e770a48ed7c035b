// Package perception decides, per observer, whether and how a published
// message is perceived. Probability falls off with seat distance using a
// configurable decay shape; occluded seats weaken vision; teachers only get a
// masked suspicion for configured topics; low probability degrades content.
package perception

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/world"
)

// Decay selects the distance decay shape.
type Decay string

const (
	// DecayLinear is max(0, 1 - d/range).
	DecayLinear Decay = "linear"
	// DecayExponential is exp(-alpha*d).
	DecayExponential Decay = "exponential"
)

// Channel is the sense a topic travels through.
type Channel string

const (
	ChannelHearing Channel = "hearing"
	ChannelVision  Channel = "vision"
)

// Profile holds the perception capabilities of an observer.
type Profile struct {
	HearingRange    float64  `yaml:"hearing_range" json:"hearing_range"`
	VisionRange     float64  `yaml:"vision_range" json:"vision_range"`
	Decay           Decay    `yaml:"distance_decay" json:"distance_decay"`
	DecayAlpha      float64  `yaml:"decay_alpha" json:"decay_alpha"`
	OccludedSeats   []string `yaml:"occluded_seats" json:"occluded_seats,omitempty"`
	OcclusionFactor float64  `yaml:"occlusion_factor" json:"occlusion_factor"`
}

// DefaultProfile returns the baseline observer profile.
func DefaultProfile() Profile {
	return Profile{HearingRange: 6, VisionRange: 5, Decay: DecayLinear, DecayAlpha: 0.6, OcclusionFactor: 0.5}
}

// ObserverConfig controls delivery of overheard copies to bystanders.
type ObserverConfig struct {
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Roles   []core.Role  `yaml:"roles" json:"roles"`
	Topics  []core.Topic `yaml:"topics" json:"topics"`
	Topic   core.Topic   `yaml:"topic" json:"topic"`
	Chance  float64      `yaml:"chance" json:"chance"`
}

// Config configures the perception model.
type Config struct {
	Enabled          bool                   `yaml:"enabled" json:"enabled"`
	TopicChannels    map[core.Topic]Channel `yaml:"topic_channels" json:"topic_channels,omitempty"`
	BypassTopics     []core.Topic           `yaml:"bypass_topics" json:"bypass_topics,omitempty"`
	SuspicionTopics  []core.Topic           `yaml:"suspicion_topics" json:"suspicion_topics,omitempty"`
	MaskSenderTopics []core.Topic           `yaml:"mask_sender_topics" json:"mask_sender_topics,omitempty"`
	Observer         ObserverConfig         `yaml:"observer" json:"observer"`
	DegradeThreshold float64                `yaml:"degrade_threshold" json:"degrade_threshold"`
	DefaultProfile   Profile                `yaml:"default_profile" json:"default_profile"`
	RoleProfiles     map[core.Role]Profile  `yaml:"role_profiles" json:"role_profiles,omitempty"`
}

// DefaultConfig enables perception with linear decay. Lectures, summaries and
// quizzes bypass perception; noise is a masked suspicion topic for teachers.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		TopicChannels: map[core.Topic]Channel{
			core.TopicNoise: ChannelVision,
			core.TopicNote:  ChannelVision,
		},
		BypassTopics:     []core.Topic{core.TopicLecture, core.TopicSummary, core.TopicQuiz, core.TopicQuizScore, core.TopicDiscipline},
		SuspicionTopics:  []core.Topic{core.TopicNoise},
		MaskSenderTopics: []core.Topic{core.TopicNoise},
		Observer: ObserverConfig{
			Enabled: true,
			Roles:   []core.Role{core.RoleTeacher},
			Topics:  []core.Topic{core.TopicPeerComment, core.TopicNote},
			Topic:   core.TopicOverheard,
			Chance:  0.4,
		},
		DegradeThreshold: 0.35,
		DefaultProfile:   DefaultProfile(),
	}
}

// Validate checks ranges, decay shapes and probabilities.
func (c Config) Validate() error {
	profiles := map[string]Profile{"default": c.DefaultProfile}
	for r, p := range c.RoleProfiles {
		profiles[string(r)] = p
	}
	for name, p := range profiles {
		if p.Decay != DecayLinear && p.Decay != DecayExponential {
			return core.NewConfigError("perception."+name+".distance_decay", "unsupported decay %q", p.Decay)
		}
		if p.HearingRange < 0 || p.VisionRange < 0 || p.DecayAlpha < 0 {
			return core.NewConfigError("perception."+name, "ranges and alpha must not be negative")
		}
		if p.OcclusionFactor < 0 || p.OcclusionFactor > 1 {
			return core.NewConfigError("perception."+name+".occlusion_factor", "must be within [0,1]")
		}
	}
	if c.DegradeThreshold < 0 || c.DegradeThreshold > 1 {
		return core.NewConfigError("perception.degrade_threshold", "must be within [0,1]")
	}
	if c.Observer.Chance < 0 || c.Observer.Chance > 1 {
		return core.NewConfigError("perception.observer.chance", "must be within [0,1]")
	}
	for t, ch := range c.TopicChannels {
		if ch != ChannelHearing && ch != ChannelVision {
			return core.NewConfigError("perception.topic_channels."+string(t), "unknown channel %q", ch)
		}
	}
	return nil
}

// Probability applies the decay shape to a seat distance.
func Probability(distance int, rangeValue float64, decay Decay, alpha float64) float64 {
	if rangeValue <= 0 {
		return 0
	}
	if decay == DecayExponential {
		return math.Exp(-alpha * float64(distance))
	}
	return math.Max(0, 1-float64(distance)/rangeValue)
}

// Degrade shortens content the observer could not make out.
func Degrade(content string) string {
	if first, _, ok := strings.Cut(content, ";"); ok {
		return first + ";..."
	}
	if r := []rune(content); len(r) > 24 {
		return string(r[:24]) + "..."
	}
	return "unclear"
}

// Locator resolves seat distances and locations. *world.World satisfies it.
type Locator interface {
	Distance(a, b string) (int, bool)
	Location(agentID string) (world.Location, bool)
}

// RoleLookup resolves agent roles. *core.Registry satisfies it.
type RoleLookup interface {
	Role(agentID string) (core.Role, bool)
}

// Result is the outcome of evaluating one message for one observer.
type Result struct {
	Perceived     bool
	Probability   float64
	Distance      int
	DistanceKnown bool
	Channel       Channel
	Masked        bool
	Suspicion     bool
	SuspicionRate float64
	SuspectRow    int
}

// Model evaluates perception. It is safe for concurrent use; the random
// source is serialized internally.
type Model struct {
	mu    sync.Mutex
	cfg   Config
	loc   Locator
	roles RoleLookup
	rng   *rand.Rand
}

// New creates a perception model. A nil rng is seeded with 1.
func New(cfg Config, loc Locator, roles RoleLookup, rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Model{cfg: cfg, loc: loc, roles: roles, rng: rng}
}

// SetConfig swaps the configuration, used on reload.
func (m *Model) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Config returns the active configuration.
func (m *Model) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

func (m *Model) float() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

func (m *Model) profileFor(cfg Config, agentID string) Profile {
	if m.roles != nil {
		if role, ok := m.roles.Role(agentID); ok {
			if p, ok := cfg.RoleProfiles[role]; ok {
				return p
			}
		}
	}
	return cfg.DefaultProfile
}

// Evaluate computes the perception outcome of msg for receiverID.
func (m *Model) Evaluate(msg core.Message, receiverID string) Result {
	cfg := m.Config()
	return m.evaluate(cfg, msg, receiverID)
}

func (m *Model) evaluate(cfg Config, msg core.Message, receiverID string) Result {
	profile := m.profileFor(cfg, receiverID)
	channel := cfg.TopicChannels[msg.Topic]
	if channel == "" {
		channel = ChannelHearing
	}
	res := Result{Channel: channel, SuspectRow: -1, Probability: 1}
	if m.loc != nil {
		res.Distance, res.DistanceKnown = m.loc.Distance(msg.SenderID, receiverID)
	}
	if res.DistanceKnown {
		rangeValue := profile.HearingRange
		if channel == ChannelVision {
			rangeValue = profile.VisionRange
		}
		res.Probability = Probability(res.Distance, rangeValue, profile.Decay, profile.DecayAlpha)
	}
	if channel == ChannelVision && m.occluded(profile, msg.SenderID) {
		res.Probability *= profile.OcclusionFactor
	}
	res.Probability = math.Min(1, math.Max(0, res.Probability))
	res.Perceived = res.Probability > 0 && m.float() <= res.Probability

	if role, ok := m.roleOf(receiverID); ok && role == core.RoleTeacher && slices.Contains(cfg.SuspicionTopics, msg.Topic) {
		res.Suspicion = true
		res.SuspicionRate = math.Round(math.Max(0.1, 1-res.Probability)*100) / 100
		if loc, ok := m.location(msg.SenderID); ok && loc.Seated() {
			res.SuspectRow = loc.Row
		}
		res.Masked = slices.Contains(cfg.MaskSenderTopics, msg.Topic)
	}
	return res
}

func (m *Model) roleOf(id string) (core.Role, bool) {
	if m.roles == nil {
		return "", false
	}
	return m.roles.Role(id)
}

func (m *Model) location(id string) (world.Location, bool) {
	if m.loc == nil {
		return world.Location{}, false
	}
	return m.loc.Location(id)
}

func (m *Model) occluded(p Profile, senderID string) bool {
	if len(p.OccludedSeats) == 0 {
		return false
	}
	loc, ok := m.location(senderID)
	return ok && loc.Seated() && slices.Contains(p.OccludedSeats, loc.Seat)
}

// Deliver returns the copy of msg that receiverID perceives, or ok=false
// when nothing is perceived. The copy keeps the message id.
func (m *Model) Deliver(msg core.Message, receiverID string) (core.Message, Result, bool) {
	cfg := m.Config()
	out := msg
	out.ReceiverID = receiverID
	if !cfg.Enabled || slices.Contains(cfg.BypassTopics, msg.Topic) {
		out.Visibility = core.VisibilityTrue
		out.Probability = 1
		return out, Result{Perceived: true, Probability: 1, SuspectRow: -1}, true
	}
	res := m.evaluate(cfg, msg, receiverID)
	if !res.Perceived {
		return core.Message{}, res, false
	}
	out.Probability = res.Probability
	switch {
	case res.Masked:
		out.SenderID = core.UnknownSender
		out.Visibility = core.VisibilitySuspicion
		var parts []string
		if res.SuspectRow >= 0 {
			parts = append(parts, fmt.Sprintf("suspect_row=%d", res.SuspectRow))
		}
		parts = append(parts, fmt.Sprintf("suspicion=%.2f", res.SuspicionRate), "noise=detected")
		out.Content = strings.Join(parts, ";")
	case res.Suspicion:
		out.Visibility = core.VisibilitySuspicion
		if res.Probability < cfg.DegradeThreshold {
			out.Content = Degrade(msg.Content)
		}
	case res.Probability >= 1:
		out.Visibility = core.VisibilityTrue
	default:
		out.Visibility = core.VisibilityPerceived
		if res.Probability < cfg.DegradeThreshold {
			out.Content = Degrade(msg.Content)
		}
	}
	return out, res, true
}

// Overheard returns the copies bystanders pick up. Candidates that are the
// sender or one of the addressed receivers are skipped.
func (m *Model) Overheard(msg core.Message, receivers, candidates []string) []core.Message {
	cfg := m.Config()
	obs := cfg.Observer
	if !cfg.Enabled || !obs.Enabled || !slices.Contains(obs.Topics, msg.Topic) {
		return nil
	}
	topic := obs.Topic
	if topic == "" {
		topic = core.TopicOverheard
	}
	var out []core.Message
	for _, id := range candidates {
		if id == msg.SenderID || slices.Contains(receivers, id) {
			continue
		}
		if role, ok := m.roleOf(id); ok && len(obs.Roles) > 0 && !slices.Contains(obs.Roles, role) {
			continue
		}
		res := m.evaluate(cfg, msg, id)
		if !res.Perceived || m.float() > obs.Chance {
			continue
		}
		sender, content := msg.SenderID, msg.Content
		if res.Probability < cfg.DegradeThreshold {
			sender, content = core.UnknownSender, Degrade(content)
		}
		out = append(out, core.Message{
			ID:          msg.ID,
			SenderID:    sender,
			ReceiverID:  id,
			Topic:       topic,
			Content:     fmt.Sprintf("from=%s;topic=%s;content=%s", sender, msg.Topic, content),
			Tick:        msg.Tick,
			Visibility:  core.VisibilityPerceived,
			Probability: res.Probability,
		})
	}
	return out
}
