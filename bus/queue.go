package bus

import (
	"sync"

	"github.com/hupe1980/classmesh/core"
)

// queue is a fixed capacity ring of inbound messages for one recipient.
// When full, push evicts the oldest entry instead of blocking.
type queue struct {
	mu    sync.Mutex
	items []core.Message
	head  int
	size  int
}

func newQueue(capacity int) *queue {
	return &queue{items: make([]core.Message, capacity)}
}

// push appends msg, returning the evicted entry when the queue was full.
func (q *queue) push(msg core.Message) (core.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	capacity := len(q.items)
	if q.size < capacity {
		q.items[(q.head+q.size)%capacity] = msg
		q.size++
		return core.Message{}, false
	}
	evicted := q.items[q.head]
	q.items[q.head] = msg
	q.head = (q.head + 1) % capacity
	return evicted, true
}

// drain returns and clears every queued entry, oldest first.
func (q *queue) drain() []core.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	out := make([]core.Message, q.size)
	capacity := len(q.items)
	for i := 0; i < q.size; i++ {
		out[i] = q.items[(q.head+i)%capacity]
		q.items[(q.head+i)%capacity] = core.Message{}
	}
	q.head, q.size = 0, 0
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
