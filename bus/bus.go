// Package bus mediates all message exchange between agents.
//
// Every recipient owns a bounded inbound queue with its own lock, so
// publishers for different recipients never contend. A full queue evicts its
// oldest entry and reports the drop; publishing never blocks. Every published
// message is appended to a global event log with TRUE visibility, and each
// partially perceived delivery adds a PERCEIVED or SUSPICION variant.
package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
	"github.com/hupe1980/classmesh/perception"
)

// DefaultQueueCapacity is the inbound queue size per recipient.
const DefaultQueueCapacity = 100

// DefaultLogCapacity bounds the in-memory global event log.
const DefaultLogCapacity = 10000

// Directory resolves agents. *core.Registry satisfies it.
type Directory interface {
	Exists(id string) bool
	Get(id string) (core.AgentProfile, bool)
	GroupMembers(group string, role core.Role) []string
	IDs() []string
}

// Publisher accepts outbound messages.
type Publisher interface {
	Publish(msg core.Message) error
}

// Options configures a Bus.
type Options struct {
	// QueueCapacity is the per-recipient inbound bound.
	QueueCapacity int
	// LogCapacity bounds the in-memory global log; 0 means DefaultLogCapacity.
	LogCapacity int
	// HoldUnpersisted keeps events past the MarkPersisted watermark when the
	// log is over capacity, so a persister reading AfterSeq never misses one.
	HoldUnpersisted bool
	// Perception filters deliveries; nil delivers everything with TRUE visibility.
	Perception *perception.Model
	// OnDrop is called for every evicted entry.
	OnDrop func(core.DeadLetter)
	// Failures counts non-fatal failures.
	Failures *core.FailureCounters
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Bus is the perception-filtered message bus.
type Bus struct {
	dir  Directory
	opts Options

	queuesMu sync.RWMutex
	queues   map[string]*queue

	seq       atomic.Uint64
	logMu     sync.RWMutex
	logSeq    uint64
	persisted uint64
	log       []core.WorldEvent

	subsMu sync.Mutex
	subs   map[int]chan core.WorldEvent
	nextID int
}

// New creates a bus backed by dir.
func New(dir Directory, optFns ...func(o *Options)) *Bus {
	opts := Options{
		QueueCapacity: DefaultQueueCapacity,
		LogCapacity:   DefaultLogCapacity,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	if opts.Failures == nil {
		opts.Failures = core.NewFailureCounters()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Bus{
		dir:    dir,
		opts:   opts,
		queues: make(map[string]*queue),
		subs:   make(map[int]chan core.WorldEvent),
	}
}

// SetPerception swaps the perception model, used on reload.
func (b *Bus) SetPerception(m *perception.Model) {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()
	b.opts.Perception = m
}

func (b *Bus) perception() *perception.Model {
	b.queuesMu.RLock()
	defer b.queuesMu.RUnlock()
	return b.opts.Perception
}

func (b *Bus) queueFor(id string) *queue {
	b.queuesMu.RLock()
	q, ok := b.queues[id]
	b.queuesMu.RUnlock()
	if ok {
		return q
	}
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()
	if q, ok = b.queues[id]; !ok {
		q = newQueue(b.opts.QueueCapacity)
		b.queues[id] = q
	}
	return q
}

// Unregister discards an agent's queue. Pending entries become dead letters.
func (b *Bus) Unregister(id string) {
	b.queuesMu.Lock()
	q, ok := b.queues[id]
	delete(b.queues, id)
	b.queuesMu.Unlock()
	if !ok {
		return
	}
	for _, m := range q.drain() {
		b.deadLetter(core.DeadLetter{Message: m, RecipientID: id, Reason: "agent_removed", Tick: m.Tick})
	}
}

// Validate checks a message without publishing it.
func (b *Bus) Validate(msg core.Message) error {
	var err error
	switch {
	case msg.SenderID != core.SystemSender && !b.dir.Exists(msg.SenderID):
		err = core.NewValidationError("sender_id", msg.SenderID, "is not a registered agent")
	case msg.ReceiverID != "" && !b.dir.Exists(msg.ReceiverID):
		err = core.NewValidationError("receiver_id", msg.ReceiverID, "is not a registered agent")
	case !msg.Topic.Valid():
		err = core.NewValidationError("topic", string(msg.Topic), "is not a known topic")
	}
	if err != nil {
		b.opts.Failures.Inc(core.FailureValidation)
		b.opts.Logger.Warn("bus.publish.rejected", "message_id", msg.ID, "sender_id", msg.SenderID, "error", err.Error())
	}
	return err
}

// Publish validates msg, records it in the global log and enqueues the
// perceived copy for every qualifying recipient. It never blocks on full
// queues. An invalid message is rejected with a *core.ValidationError.
func (b *Bus) Publish(msg core.Message) error {
	_, err := b.publish(msg)
	return err
}

func (b *Bus) publish(msg core.Message) (core.Message, error) {
	if err := b.Validate(msg); err != nil {
		return msg, err
	}
	msg.Seq = b.seq.Add(1)
	msg.Visibility = core.VisibilityTrue
	b.record(core.WorldEvent{
		Tick:       msg.Tick,
		Kind:       core.WorldEventMessage,
		Visibility: core.VisibilityTrue,
		ActorID:    msg.SenderID,
		ObserverID: msg.SenderID,
		Message:    &msg,
	})

	recipients := b.recipients(msg)
	pm := b.perception()
	for _, rid := range recipients {
		delivered := msg
		delivered.ReceiverID = rid
		if pm != nil {
			out, res, ok := pm.Deliver(msg, rid)
			if !ok {
				b.opts.Logger.Debug("bus.delivery.unperceived", "message_id", msg.ID, "receiver_id", rid, "probability", res.Probability)
				continue
			}
			delivered = out
		}
		if delivered.Visibility != core.VisibilityTrue {
			b.recordPerception(delivered, rid)
		}
		b.enqueue(rid, delivered)
	}
	if pm != nil {
		for _, o := range pm.Overheard(msg, recipients, b.dir.IDs()) {
			b.recordPerception(o, o.ReceiverID)
			b.enqueue(o.ReceiverID, o)
		}
	}
	return msg, nil
}

func (b *Bus) recipients(msg core.Message) []string {
	if msg.ReceiverID != "" {
		return []string{msg.ReceiverID}
	}
	group := core.GroupAll
	if p, ok := b.dir.Get(msg.SenderID); ok && p.Group != "" {
		group = p.Group
	}
	members := b.dir.GroupMembers(group, "")
	return slices.DeleteFunc(members, func(id string) bool { return id == msg.SenderID })
}

func (b *Bus) recordPerception(m core.Message, observer string) {
	copyMsg := m
	b.record(core.WorldEvent{
		Tick:       m.Tick,
		Kind:       core.WorldEventPerception,
		Visibility: m.Visibility,
		ActorID:    m.SenderID,
		ObserverID: observer,
		Message:    &copyMsg,
	})
}

func (b *Bus) enqueue(rid string, m core.Message) {
	evicted, dropped := b.queueFor(rid).push(m)
	if !dropped {
		return
	}
	err := &core.QueueOverflowError{AgentID: rid, Capacity: b.opts.QueueCapacity, DroppedID: evicted.ID}
	b.opts.Failures.Inc(core.FailureQueueOverflow)
	b.opts.Logger.Warn("bus.queue.overflow", "receiver_id", rid, "dropped_id", evicted.ID, "error", err.Error())
	b.deadLetter(core.DeadLetter{Message: evicted, RecipientID: rid, Reason: "queue_overflow", Tick: m.Tick})
}

func (b *Bus) deadLetter(dl core.DeadLetter) {
	msg := dl.Message
	b.record(core.WorldEvent{
		Tick:       dl.Tick,
		Kind:       core.WorldEventDrop,
		Visibility: msg.Visibility,
		ActorID:    msg.SenderID,
		ObserverID: dl.RecipientID,
		Message:    &msg,
		Detail:     dl.Reason,
	})
	if b.opts.OnDrop != nil {
		b.opts.OnDrop(dl)
	}
}

// Drain returns and clears everything queued for agentID. It never waits.
func (b *Bus) Drain(agentID string) []core.Message {
	b.queuesMu.RLock()
	q, ok := b.queues[agentID]
	b.queuesMu.RUnlock()
	if !ok {
		return nil
	}
	return q.drain()
}

// Pending returns the number of queued entries for agentID.
func (b *Bus) Pending(agentID string) int {
	b.queuesMu.RLock()
	q, ok := b.queues[agentID]
	b.queuesMu.RUnlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Record appends a non-message event (scene changes, system notices) to the
// global log.
func (b *Bus) Record(ev core.WorldEvent) {
	if ev.Visibility == "" {
		ev.Visibility = core.VisibilityTrue
	}
	b.record(ev)
}

func (b *Bus) record(ev core.WorldEvent) {
	b.logMu.Lock()
	b.logSeq++
	ev.Seq = b.logSeq
	b.log = append(b.log, ev)
	b.trimLocked()
	b.logMu.Unlock()
	b.broadcast(ev)
}

// MarkPersisted records that every event up to seq has been handed to the
// store. With HoldUnpersisted it releases the held events for trimming.
func (b *Bus) MarkPersisted(seq uint64) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	if seq > b.persisted {
		b.persisted = seq
	}
	b.trimLocked()
}

func (b *Bus) trimLocked() {
	over := len(b.log) - b.opts.LogCapacity
	if over <= 0 {
		return
	}
	if b.opts.HoldUnpersisted {
		// Log sequence numbers are contiguous, so the persisted prefix is
		// everything from the first retained event up to the watermark.
		held := 0
		if first := b.log[0].Seq; b.persisted >= first {
			held = int(b.persisted - first + 1)
		}
		over = min(over, held)
	}
	if over > 0 {
		b.log = slices.Delete(b.log, 0, over)
	}
}

// Subscribe returns a live feed of log events. Slow subscribers miss events
// rather than stalling publishers. Call the returned func to unsubscribe.
func (b *Bus) Subscribe(buffer int) (<-chan core.WorldEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan core.WorldEvent, buffer)
	b.subsMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, id)
			b.subsMu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) broadcast(ev core.WorldEvent) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
