package core

import "sync"

// ModelLimiter enforces a maximum number of language-model calls per run.
// Decision strategies consult it before every call and fall back to rules
// once the budget is spent.
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a new limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// TryAcquire reserves one call and reports whether the budget allowed it.
// A nil limiter is unlimited.
func (ml *ModelLimiter) TryAcquire() bool {
	if ml == nil {
		return true
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.max > 0 && ml.count >= ml.max {
		return false
	}
	ml.count++
	return true
}

// Count returns the number of calls reserved so far.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	return ml.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.max == 0 {
		return -1
	}

	return ml.max - ml.count
}

// Reset clears the counter, typically when a new run starts.
func (ml *ModelLimiter) Reset() {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.count = 0
}
