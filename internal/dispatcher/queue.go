package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/roastbench/internal/generation"
	"github.com/bdougie/roastbench/internal/models"
)

// envelope is what travels through the bounded queue. A stop envelope tells
// exactly one consumer to exit.
type envelope struct {
	index int
	item  models.WorkItem
	stop  bool
}

// Queue runs a fixed pool of consumer loops fed through a bounded channel.
// Every item is enqueued, even after ctx is done, so every item gets a
// result; items dequeued after cancellation are recorded as errors.
// Results come back in completion order.
func (d *Dispatcher) Queue(ctx context.Context, items []models.WorkItem) []models.DispatchResult {
	next := 0
	return d.runQueue(ctx, len(items), func(context.Context) (models.WorkItem, bool) {
		if next >= len(items) {
			return models.WorkItem{}, false
		}
		item := items[next]
		next++
		return item, true
	})
}

// Stream is Queue for input that arrives over time. The producer stops
// reading src when it is closed or ctx is done; items never read get no result.
func (d *Dispatcher) Stream(ctx context.Context, src <-chan models.WorkItem) []models.DispatchResult {
	return d.runQueue(ctx, 0, func(ctx context.Context) (models.WorkItem, bool) {
		select {
		case <-ctx.Done():
			return models.WorkItem{}, false
		case item, ok := <-src:
			return item, ok
		}
	})
}

func (d *Dispatcher) runQueue(ctx context.Context, sizeHint int, next func(context.Context) (models.WorkItem, bool)) []models.DispatchResult {
	workers := d.concurrency
	queue := make(chan envelope, d.queueSize)
	merged := make(chan models.DispatchResult, workers)

	d.logger.Info("dispatching batch", "mode", ModeQueue, "workers", workers, "queue_size", d.queueSize)

	var g errgroup.Group

	g.Go(func() error {
		index := 0
		for {
			item, ok := next(ctx)
			if !ok {
				break
			}
			// blocks while the queue is full
			queue <- envelope{index: index, item: item}
			index++
		}
		for range workers {
			queue <- envelope{stop: true}
		}
		d.logger.Debug("producer done", "enqueued", index)
		return nil
	})

	for w := range workers {
		g.Go(func() error {
			gen, release := d.session()
			defer release()

			for env := range queue {
				if env.stop {
					return nil
				}
				merged <- d.process(ctx, gen, env.index, env.item, w)
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(merged)
	}()

	results := make([]models.DispatchResult, 0, sizeHint)
	for r := range merged {
		results = append(results, r)
	}
	return results
}

// session gives a consumer loop its own connection session when the
// generator supports it.
func (d *Dispatcher) session() (generation.Generator, func()) {
	if s, ok := d.gen.(Sessioner); ok {
		return s.NewSession()
	}
	return d.gen, func() {}
}
