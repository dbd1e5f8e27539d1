package services

import (
	"context"
	"log/slog"

	"github.com/manthysbr/pdfmill/internal/core/domain"
	"github.com/manthysbr/pdfmill/internal/core/ports"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DispatcherConfig defines how many pullers run and how many jobs may be in
// flight across all of them.
type DispatcherConfig struct {
	Kinds             []domain.JobKind
	PullersPerKind    int
	MaxConcurrentJobs int64
}

// Dispatcher runs the subscribe loops of one worker process. Each puller
// handles one message at a time; more pullers means more parallel jobs.
type Dispatcher struct {
	logger    *slog.Logger
	queue     ports.JobQueue
	kinds     []domain.JobKind
	pullers   int
	semaphore *semaphore.Weighted
}

func NewDispatcher(logger *slog.Logger, queue ports.JobQueue, cfg DispatcherConfig) *Dispatcher {
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []domain.JobKind{domain.JobKindPreview, domain.JobKindTransform}
	}
	pullers := cfg.PullersPerKind
	if pullers <= 0 {
		pullers = 1
	}
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = int64(len(kinds) * pullers)
	}

	return &Dispatcher{
		logger:    logger,
		queue:     queue,
		kinds:     kinds,
		pullers:   pullers,
		semaphore: semaphore.NewWeighted(limit),
	}
}

// Run blocks until ctx ends or any subscribe loop stops, then stops the rest.
// handlerFor is called once per kind.
func (d *Dispatcher) Run(ctx context.Context, handlerFor func(domain.JobKind) ports.MessageHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range d.kinds {
		handler := d.bounded(handlerFor(kind))
		for i := 0; i < d.pullers; i++ {
			g.Go(func() error {
				defer cancel()
				d.logger.Info("puller started", "kind", kind, "puller", i)
				err := d.queue.Subscribe(gctx, kind, handler)
				d.logger.Info("puller stopped", "kind", kind, "puller", i, "error", err)
				return err
			})
		}
	}
	return g.Wait()
}

// bounded holds a concurrency slot for the duration of the handler. A
// delivery that cannot get a slot before shutdown is handed back.
func (d *Dispatcher) bounded(handler ports.MessageHandler) ports.MessageHandler {
	return func(ctx context.Context, del ports.Delivery) {
		if err := d.semaphore.Acquire(ctx, 1); err != nil {
			d.logger.Warn("no slot before shutdown, releasing message", "error", err)
			if err := del.Nak(context.WithoutCancel(ctx)); err != nil {
				d.logger.Error("failed to nak message", "error", err)
			}
			return
		}
		defer d.semaphore.Release(1)
		handler(ctx, del)
	}
}
