package bus

import (
	"github.com/hupe1980/classmesh/core"
)

// Direction selects inbound or outbound events relative to an agent.
type Direction string

const (
	DirectionAny Direction = ""
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// LogFilter narrows a global log query. Zero fields match everything.
type LogFilter struct {
	AgentID    string
	Direction  Direction
	Since      int64
	Until      int64
	Visibility core.Visibility
	Kinds      []core.WorldEventKind
	// AfterSeq skips events up to and including this log sequence number.
	AfterSeq uint64
	// Limit keeps only the most recent matches.
	Limit int
}

func (f LogFilter) match(ev core.WorldEvent) bool {
	if ev.Seq <= f.AfterSeq {
		return false
	}
	if f.Since > 0 && ev.Tick < f.Since {
		return false
	}
	if f.Until > 0 && ev.Tick > f.Until {
		return false
	}
	if f.Visibility != "" && ev.Visibility != f.Visibility {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AgentID == "" {
		return true
	}
	out := ev.ActorID == f.AgentID && ev.Kind == core.WorldEventMessage
	in := ev.ObserverID == f.AgentID && ev.ActorID != f.AgentID
	if ev.Kind == core.WorldEventMessage && ev.Message != nil {
		in = in || ev.Message.ReceiverID == f.AgentID
	}
	switch f.Direction {
	case DirectionIn:
		return in
	case DirectionOut:
		return out
	default:
		return in || out || ev.ActorID == f.AgentID || ev.ObserverID == f.AgentID
	}
}

// Log returns global log events matching f, oldest first.
func (b *Bus) Log(f LogFilter) []core.WorldEvent {
	b.logMu.RLock()
	defer b.logMu.RUnlock()
	var out []core.WorldEvent
	for _, ev := range b.log {
		if f.match(ev) {
			out = append(out, ev)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// LogLen returns the number of retained events.
func (b *Bus) LogLen() int {
	b.logMu.RLock()
	defer b.logMu.RUnlock()
	return len(b.log)
}
