// Package sweeper runs the auto-close loop: on every tick it finds instances
// whose check-in window has passed without both parties checking in and
// finalizes them. Safe to run from multiple replicas; the store's version
// check guarantees each instance is finalized exactly once.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"handoff/pkg/requestcontext"

	"handoff/internal/exchange/metrics"
	"handoff/internal/exchange/models"
	"handoff/internal/exchange/store"
)

// maxParallelFinalizations bounds concurrent finalizations within one batch.
const maxParallelFinalizations = 8

// Finalizer closes one expired instance; the bool reports whether this call
// performed the finalization.
type Finalizer interface {
	FinalizeExpired(ctx context.Context, inst *models.ExchangeInstance) (bool, error)
}

// Sweeper periodically finalizes expired exchange instances.
type Sweeper struct {
	store     store.Store
	finalizer Finalizer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

// New constructs a Sweeper.
func New(st store.Store, finalizer Finalizer, logger *slog.Logger, m *metrics.Metrics, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		store:     st,
		finalizer: finalizer,
		logger:    logger,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "auto-close sweeper started",
		"interval", s.interval.String(),
		"batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "auto-close sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep pass failed", "error", err)
			}
		}
	}
}

// SweepOnce runs one pass and returns how many instances it finalized. The
// whole pass observes a single instant so every instance in the batch is
// judged against the same clock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	started := time.Now()
	now := requestcontext.Now(ctx)
	ctx = requestcontext.WithTime(ctx, now)

	expired, err := s.store.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		s.metrics.ObserveSweep(0, time.Since(started))
		return 0, nil
	}

	var claimed int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFinalizations)
	results := make([]bool, len(expired))
	for i, inst := range expired {
		g.Go(func() error {
			done, err := s.finalizer.FinalizeExpired(gctx, inst)
			if err != nil {
				s.logger.WarnContext(gctx, "failed to finalize expired instance",
					"instance_id", inst.ID.String(),
					"error", err)
				return nil
			}
			results[i] = done
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, done := range results {
		if done {
			claimed++
		}
	}

	s.metrics.ObserveSweep(claimed, time.Since(started))
	if claimed > 0 {
		s.logger.InfoContext(ctx, "sweep pass finalized expired instances",
			"candidates", len(expired),
			"finalized", claimed)
	}
	return claimed, nil
}
