// Package dispatcher sends work items to a generation backend under a fixed
// in-flight limit and produces exactly one result per item.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/panics"

	"github.com/bdougie/roastbench/internal/generation"
	"github.com/bdougie/roastbench/internal/logging"
	"github.com/bdougie/roastbench/internal/models"
)

const (
	defaultConcurrency = 100
	defaultQueueSize   = 10000
)

// Mode selects how a batch is scheduled
type Mode string

const (
	ModeFanOut Mode = "fanout"
	ModeQueue  Mode = "queue"
)

// Sessioner is implemented by generators that can hand out an isolated
// connection session for a long-lived worker loop.
type Sessioner interface {
	NewSession() (generation.Generator, func())
}

// Dispatcher runs generation calls for a batch of work items
type Dispatcher struct {
	gen         generation.Generator
	concurrency int
	queueSize   int
	devices     int
	allocator   Allocator
	logger      *slog.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithConcurrency caps the number of calls in flight
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) { d.concurrency = n }
}

// WithQueueSize sets the bounded channel capacity used in queue mode
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

// WithDevices attaches device ids to results using alloc.
// A nil alloc means round robin.
func WithDevices(n int, alloc Allocator) Option {
	return func(d *Dispatcher) {
		d.devices = n
		d.allocator = alloc
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher around gen
func New(gen generation.Generator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gen:         gen,
		concurrency: defaultConcurrency,
		queueSize:   defaultQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	if d.queueSize < 1 {
		d.queueSize = 1
	}
	if d.devices > 0 && d.allocator == nil {
		d.allocator = RoundRobin(d.devices)
	}
	d.logger = logging.OrDefault(d.logger).With("component", "dispatcher")
	return d
}

// Run dispatches items in the given mode
func (d *Dispatcher) Run(ctx context.Context, mode Mode, items []models.WorkItem) ([]models.DispatchResult, error) {
	switch mode {
	case ModeFanOut, "":
		return d.FanOut(ctx, items), nil
	case ModeQueue:
		return d.Queue(ctx, items), nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", mode)
	}
}

// FanOut launches every item at once and gates the network calls with a
// counting permit. Results are index-aligned with items.
func (d *Dispatcher) FanOut(ctx context.Context, items []models.WorkItem) []models.DispatchResult {
	d.logger.Info("dispatching batch", "mode", ModeFanOut, "items", len(items), "concurrency", d.concurrency)

	return FanOut(ctx, items, d.concurrency, func(ctx context.Context, i int, item models.WorkItem) models.DispatchResult {
		return d.process(ctx, d.gen, i, item, i)
	})
}

func (d *Dispatcher) device(index int) *int {
	if d.allocator == nil {
		return nil
	}
	id := d.allocator(index)
	return &id
}

// process performs one generation call and turns every outcome, panics
// included, into a result record.
func (d *Dispatcher) process(ctx context.Context, gen generation.Generator, index int, item models.WorkItem, workerID int) models.DispatchResult {
	res := models.DispatchResult{
		ItemID:   item.ID,
		Prompt:   item.Payload,
		WorkerID: workerID,
		DeviceID: d.device(index),
		Metadata: item.Metadata,
	}
	log := d.logger.With("item_id", item.ID, "worker_id", workerID)

	if err := ctx.Err(); err != nil {
		res.Status = models.DispatchError
		res.Error = fmt.Sprintf("cancelled: %v", err)
		return res
	}

	var (
		resp *generation.Response
		err  error
	)
	if r := panics.Try(func() { resp, err = gen.Generate(ctx, item.Payload) }); r != nil {
		log.Error("generation panicked", "panic", r.Value)
		res.Status = models.DispatchError
		res.Error = r.AsError().Error()
		return res
	}

	var te *models.TransportError
	switch {
	case err == nil:
		res.Status = models.DispatchSuccess
		res.ArtifactRef = resp.VideoURL
	case errors.Is(err, generation.ErrNoVideoURL):
		res.Status = models.DispatchFailed
		res.Error = err.Error()
	case errors.As(err, &te) && te.Rejected():
		res.Status = models.DispatchFailed
		res.Error = err.Error()
	default:
		res.Status = models.DispatchError
		res.Error = err.Error()
	}

	if res.Status == models.DispatchSuccess {
		log.Info("item generated")
	} else {
		log.Warn("item not generated", "status", res.Status, "error", res.Error)
	}
	return res
}
