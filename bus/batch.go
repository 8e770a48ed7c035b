package bus

import (
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// Batch stages one agent's outbound messages for a tick. Messages are
// validated on Publish but only reach the bus when the owning engine
// flushes the batch, so nothing an agent says during tick N can be drained
// before tick N+1.
type Batch struct {
	bus  *Bus
	mu   sync.Mutex
	msgs []core.Message
}

// NewBatch returns an empty staged publisher bound to b.
func (b *Bus) NewBatch() *Batch {
	return &Batch{bus: b}
}

// Publish validates and stages msg.
func (bt *Batch) Publish(msg core.Message) error {
	if err := bt.bus.Validate(msg); err != nil {
		return err
	}
	bt.mu.Lock()
	bt.msgs = append(bt.msgs, msg)
	bt.mu.Unlock()
	return nil
}

// Len returns the number of staged messages.
func (bt *Batch) Len() int {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return len(bt.msgs)
}

// Discard drops everything staged, used when a decision is abandoned.
func (bt *Batch) Discard() {
	bt.mu.Lock()
	bt.msgs = nil
	bt.mu.Unlock()
}

func (bt *Batch) take() []core.Message {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	out := bt.msgs
	bt.msgs = nil
	return out
}

// Flush publishes every staged message of each batch, in argument order,
// and returns the messages that reached the bus with their sequence numbers.
func (b *Bus) Flush(batches ...*Batch) []core.Message {
	var published []core.Message
	for _, bt := range batches {
		if bt == nil {
			continue
		}
		for _, m := range bt.take() {
			sent, err := b.publish(m)
			if err != nil {
				continue
			}
			published = append(published, sent)
		}
	}
	return published
}
