package agent

import (
	"context"
	"sync"
)

// Job is one runtime's work for a tick.
type Job struct {
	Runtime *Runtime
	Tick    Tick
	Outbox  Outbox
}

// RunParallel steps every job concurrently and waits for all of them.
//
// Each runtime gets its own goroutine and its own outbox, so no runtime can
// observe another's output of the same tick. Slow decisions are bounded by
// the per-agent timeout inside Step, which means RunParallel returns once
// the slowest agent has either decided or timed out. Results are returned in
// job order regardless of completion order.
func RunParallel(ctx context.Context, jobs []Job) []StepResult {
	results := make([]StepResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		if job.Runtime == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = job.Runtime.Step(ctx, job.Tick, job.Outbox)
		}()
	}
	wg.Wait()
	return results
}
