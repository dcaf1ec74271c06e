package services

import (
	"context"
	"errors"
	"time"

	"github.com/printhaus/api/internal/repositories"
)

const (
	defaultSweepBatchSize  = 100
	defaultSweepMaxBatches = 50
)

// HoldSweeperDeps wires the sweeper.
type HoldSweeperDeps struct {
	Holds      repositories.PendingCheckoutRepository
	BatchSize  int
	MaxBatches int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type holdSweeper struct {
	holds      repositories.PendingCheckoutRepository
	batchSize  int
	maxBatches int
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewHoldSweeper constructs a sweeper that deletes holds past their expiry in batches.
func NewHoldSweeper(deps HoldSweeperDeps) (HoldSweeper, error) {
	if deps.Holds == nil {
		return nil, errors.New("hold sweeper: pending checkout repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	maxBatches := deps.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultSweepMaxBatches
	}
	return &holdSweeper{
		holds:      deps.Holds,
		batchSize:  batch,
		maxBatches: maxBatches,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Sweep deletes expired holds until a short batch comes back or the batch cap is reached.
func (s *holdSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := s.now()
	var result SweepResult
	for result.Batches < s.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		removed, err := s.holds.DeleteExpired(ctx, cutoff, s.batchSize)
		if err != nil {
			s.logger(ctx, "checkout.hold.sweep_failed", map[string]any{
				"removed": result.Removed,
				"batches": result.Batches,
				"error":   err.Error(),
			})
			return result, err
		}
		result.Batches++
		result.Removed += removed
		if removed < s.batchSize {
			break
		}
	}
	if result.Removed > 0 {
		s.logger(ctx, "checkout.hold.swept", map[string]any{
			"removed": result.Removed,
			"batches": result.Batches,
			"cutoff":  cutoff,
		})
	}
	return result, nil
}
