package store

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/classmesh/core"
	"github.com/hupe1980/classmesh/logging"
)

var _ core.Store = (*AsyncWriter)(nil)

// AsyncWriterOptions configures an AsyncWriter.
type AsyncWriterOptions struct {
	// QueueSize bounds the number of pending writes.
	QueueSize int
	// MaxAttempts is the number of tries per write before it is dropped.
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles per retry.
	Backoff time.Duration
	// EnqueueTimeout is how long a write waits for queue space before it is
	// dropped.
	EnqueueTimeout time.Duration
	// Retryable filters errors worth another attempt. Nil retries all.
	Retryable func(err error) bool
	Failures  *core.FailureCounters
	Logger    logging.Logger
}

type writeOp struct {
	name  string
	fn    func(ctx context.Context, s core.Store) error
	flush chan struct{}
}

// AsyncWriter puts a core.Store behind a bounded queue drained by a single
// goroutine, so writes are applied in submission order. A failed write is
// retried with exponential backoff; after MaxAttempts it is dropped, logged
// and counted as a persistence_write failure. Reads go straight to the
// underlying store.
type AsyncWriter struct {
	store core.Store
	opts  AsyncWriterOptions
	queue chan writeOp

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncWriter starts the background writer for s.
func NewAsyncWriter(s core.Store, optFns ...func(o *AsyncWriterOptions)) *AsyncWriter {
	opts := AsyncWriterOptions{
		QueueSize:      1024,
		MaxAttempts:    3,
		Backoff:        20 * time.Millisecond,
		EnqueueTimeout: time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Failures == nil {
		opts.Failures = core.NewFailureCounters()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	w := &AsyncWriter{
		store:  s,
		opts:   opts,
		queue:  make(chan writeOp, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	w.wg.Add(1)
	go w.process()
	return w
}

// Store returns the wrapped store.
func (w *AsyncWriter) Store() core.Store { return w.store }

// Pending returns the number of queued writes.
func (w *AsyncWriter) Pending() int { return len(w.queue) }

func (w *AsyncWriter) process() {
	defer w.wg.Done()
	for op := range w.queue {
		if op.flush != nil {
			close(op.flush)
			continue
		}
		w.apply(op)
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	backoff := w.opts.Backoff
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		err := op.fn(w.ctx, w.store)
		if err == nil {
			return
		}
		if attempt == w.opts.MaxAttempts || (w.opts.Retryable != nil && !w.opts.Retryable(err)) {
			w.drop(&core.PersistenceWriteError{Op: op.name, Attempts: attempt, Err: err})
			return
		}
		w.opts.Logger.Debug("store.write.retry", "op", op.name, "attempt", attempt, "error", err.Error())
		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
		}
		backoff *= 2
	}
}

func (w *AsyncWriter) drop(err *core.PersistenceWriteError) {
	w.opts.Failures.Inc(core.FailurePersistence)
	w.opts.Logger.Warn("store.write.dropped", "op", err.Op, "attempts", err.Attempts, "error", err.Error())
}

// enqueue queues a write. When the queue is full it waits for space until
// EnqueueTimeout or the caller's ctx expires, then drops the write. Callers
// that share one ctx deadline across many writes bound their total wait.
func (w *AsyncWriter) enqueue(ctx context.Context, name string, fn func(ctx context.Context, s core.Store) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}
	op := writeOp{name: name, fn: fn}
	select {
	case w.queue <- op:
		return nil
	default:
	}
	timer := time.NewTimer(w.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- op:
		return nil
	case <-timer.C:
		w.drop(&core.PersistenceWriteError{Op: name, Err: context.DeadlineExceeded})
	case <-ctx.Done():
		w.drop(&core.PersistenceWriteError{Op: name, Err: ctx.Err()})
	}
	return nil
}

// Flush blocks until every write queued before the call has been applied
// or dropped.
func (w *AsyncWriter) Flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	done := make(chan struct{})
	select {
	case w.queue <- writeOp{name: "flush", flush: done}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) AppendMessage(ctx context.Context, msg core.Message) error {
	return w.enqueue(ctx, "append_message", func(ctx context.Context, s core.Store) error {
		return s.AppendMessage(ctx, msg)
	})
}

func (w *AsyncWriter) AppendKnowledge(ctx context.Context, rec core.KnowledgeRecord) error {
	return w.enqueue(ctx, "append_knowledge", func(ctx context.Context, s core.Store) error {
		return s.AppendKnowledge(ctx, rec)
	})
}

func (w *AsyncWriter) SaveAgentMemory(ctx context.Context, agentID, summary string) error {
	return w.enqueue(ctx, "save_agent_memory", func(ctx context.Context, s core.Store) error {
		return s.SaveAgentMemory(ctx, agentID, summary)
	})
}

func (w *AsyncWriter) AppendMemory(ctx context.Context, entry core.MemoryEntry) error {
	return w.enqueue(ctx, "append_memory", func(ctx context.Context, s core.Store) error {
		return s.AppendMemory(ctx, entry)
	})
}

func (w *AsyncWriter) AppendDeadLetter(ctx context.Context, dl core.DeadLetter) error {
	return w.enqueue(ctx, "append_dead_letter", func(ctx context.Context, s core.Store) error {
		return s.AppendDeadLetter(ctx, dl)
	})
}

func (w *AsyncWriter) AppendWorldEvent(ctx context.Context, ev core.WorldEvent) error {
	return w.enqueue(ctx, "append_world_event", func(ctx context.Context, s core.Store) error {
		return s.AppendWorldEvent(ctx, ev)
	})
}

func (w *AsyncWriter) SetLastTick(ctx context.Context, tick int64) error {
	return w.enqueue(ctx, "set_last_tick", func(ctx context.Context, s core.Store) error {
		return s.SetLastTick(ctx, tick)
	})
}

func (w *AsyncWriter) LoadAgentMemory(ctx context.Context, agentID string) (string, []string, error) {
	return w.store.LoadAgentMemory(ctx, agentID)
}

func (w *AsyncWriter) LoadKnowledge(ctx context.Context, agentID string) (map[string]float64, error) {
	return w.store.LoadKnowledge(ctx, agentID)
}

func (w *AsyncWriter) LastTick(ctx context.Context) (int64, error) {
	return w.store.LastTick(ctx)
}

// Close drains the queue, stops the writer and closes the underlying store.
func (w *AsyncWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()
	return w.store.Close()
}
