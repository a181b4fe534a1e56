// Package pool runs a batch of independent tasks under a concurrency bound.
//
// Guarantees: at most limit tasks are in flight at once; every task settles
// (a panic inside one task is converted into that slot's failure value and
// never disturbs the others); and the results slice is indexed to match the
// input order regardless of completion order.
package pool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task produces the result for one input slot.
type Task[T any] func(ctx context.Context) T

// Recovered converts a panic (or a failure to schedule) into the result
// value for the affected slot.
type Recovered[T any] func(index int, cause any) T

// Run executes all tasks with at most limit in flight and returns their
// results in input order. It blocks until every task has settled.
func Run[T any](ctx context.Context, limit int, tasks []Task[T], recovered Recovered[T]) []T {
	if limit <= 0 {
		limit = 1
	}
	results := make([]T, len(tasks))
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled before the slot could start; the task still
			// settles, as a failure.
			results[i] = recovered(i, err)
			continue
		}
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if cause := recover(); cause != nil {
					slog.Error("task panicked",
						"index", i,
						"cause", cause,
						"stack", string(debug.Stack()),
					)
					results[i] = recovered(i, cause)
				}
			}()
			results[i] = task(ctx)
		}(i, task)
	}

	wg.Wait()
	return results
}
