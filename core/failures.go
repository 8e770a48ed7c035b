package core

import (
	"errors"
	"maps"
	"sync"
)

// FailureKind names a class of non-fatal failure.
type FailureKind string

// Failure kinds tracked by FailureCounters.
const (
	FailureValidation      FailureKind = "validation"
	FailureQueueOverflow   FailureKind = "queue_overflow"
	FailureDecisionTimeout FailureKind = "decision_timeout"
	FailureDecisionError   FailureKind = "decision_error"
	FailurePersistence     FailureKind = "persistence_write"
	FailureDisallowedTopic FailureKind = "disallowed_topic"
	FailureAgentPanic      FailureKind = "agent_panic"
)

// FailureCounters counts non-fatal failures so they stay observable.
// The zero value is ready to use.
type FailureCounters struct {
	mu     sync.Mutex
	counts map[FailureKind]int64
}

// NewFailureCounters creates an empty counter set.
func NewFailureCounters() *FailureCounters {
	return &FailureCounters{counts: make(map[FailureKind]int64)}
}

// Inc increments the counter for kind.
func (f *FailureCounters) Inc(kind FailureKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[FailureKind]int64)
	}
	f.counts[kind]++
}

// Record classifies err and increments the matching counter. It returns
// false when err does not belong to the taxonomy.
func (f *FailureCounters) Record(err error) bool {
	kind, ok := ClassifyFailure(err)
	if ok {
		f.Inc(kind)
	}
	return ok
}

// Count returns the current value for kind.
func (f *FailureCounters) Count(kind FailureKind) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[kind]
}

// Snapshot returns a copy of all counters.
func (f *FailureCounters) Snapshot() map[FailureKind]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[FailureKind]int64, len(f.counts))
	maps.Copy(out, f.counts)
	return out
}

// ClassifyFailure maps an error from the taxonomy to its FailureKind.
func ClassifyFailure(err error) (FailureKind, bool) {
	var (
		validation *ValidationError
		overflow   *QueueOverflowError
		timeout    *DecisionTimeoutError
		decision   *DecisionError
		persist    *PersistenceWriteError
	)
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &timeout):
		return FailureDecisionTimeout, true
	case errors.As(err, &decision):
		return FailureDecisionError, true
	case errors.As(err, &overflow):
		return FailureQueueOverflow, true
	case errors.As(err, &persist):
		return FailurePersistence, true
	case errors.As(err, &validation):
		return FailureValidation, true
	default:
		return "", false
	}
}
