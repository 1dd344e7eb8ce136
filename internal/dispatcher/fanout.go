package dispatcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// FanOut launches one task per input and lets at most limit of them run fn at once.
// The returned slice is index-aligned with in, whatever order the tasks finish in.
//
// A task that cannot get a permit because ctx is done still calls fn, with the
// done context, so fn can record the cancellation for that item.
func FanOut[T, R any](ctx context.Context, in []T, limit int, fn func(ctx context.Context, index int, v T) R) []R {
	out := make([]R, len(in))
	if len(in) == 0 {
		return out
	}
	if limit < 1 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	for i, v := range in {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = fn(ctx, i, v)
				return
			}
			defer sem.Release(1)
			out[i] = fn(ctx, i, v)
		}()
	}
	wg.Wait()
	return out
}
