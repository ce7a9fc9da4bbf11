package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/trigger"
)

// HandleBatch processes events concurrently, at most cfg.Concurrency at a
// time, and returns their results in input order. Events that cannot start
// because ctx is done are reported, logged and notified as retryable.
func (s *Service) HandleBatch(ctx context.Context, evs []trigger.Event) []Result {
	results := make([]Result, len(evs))
	sem := semaphore.NewWeighted(int64(max(s.cfg.Concurrency, 1)))

	var wg sync.WaitGroup
	for i, ev := range evs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{
				Event: ev,
				Stage: StageParse,
				Err:   failure.Transient(ev.Name, "deadline reached before processing started", err),
			}
			s.finish(ctx, &results[i])
			continue
		}
		wg.Add(1)
		go func(i int, ev trigger.Event) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.Process(ctx, ev)
		}(i, ev)
	}
	wg.Wait()
	return results
}
