package studymanager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"studycore/pkg/domain"
	"studycore/pkg/logger"
)

// Recycler force-terminates long-running operations that have sat without
// progress for longer than the recycle period, guaranteeing pollers always
// observe a terminal state in bounded time. It races the real completion by
// design; whichever write lands first wins and the loser is discarded.
type Recycler struct {
	store  domain.DataStore
	period time.Duration
	log    *zap.SugaredLogger
	nowFn  func() time.Time
}

// NewRecycler builds a recycler scanning at and expiring after period.
func NewRecycler(store domain.DataStore, period time.Duration) *Recycler {
	return &Recycler{
		store:  store,
		period: period,
		log:    logger.For(logger.ComponentRecycler),
		nowFn:  time.Now,
	}
}

// Run scans on every tick until the context is cancelled.
func (r *Recycler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one recycling pass over all non-terminal operations.
func (r *Recycler) Sweep(ctx context.Context) {
	cutoff := r.nowFn().Add(-r.period)
	recycledErr := &domain.OperationError{
		Code:    domain.ErrorCodeRecycled,
		Message: "operation exceeded the recycle period without completing",
	}

	suggestOps, err := r.store.ListSuggestOperations(ctx)
	if err != nil {
		r.log.Warnw("list suggest operations", "error", err)
		return
	}
	for _, op := range suggestOps {
		if op.Done || op.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := r.store.CompleteSuggestOperation(ctx, op.Name, nil, recycledErr); err != nil {
			if domain.IsInvalidState(err) {
				continue // real result landed first
			}
			r.log.Warnw("recycle suggest operation", "operation", op.Name, "error", err)
			continue
		}
		r.log.Infow("suggest operation recycled", "operation", op.Name)
	}

	earlyOps, err := r.store.ListEarlyStoppingOperations(ctx)
	if err != nil {
		r.log.Warnw("list early-stopping operations", "error", err)
		return
	}
	for _, op := range earlyOps {
		if op.Done || op.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := r.store.CompleteEarlyStoppingOperation(ctx, op.Name, nil, recycledErr); err != nil {
			if domain.IsInvalidState(err) {
				continue
			}
			r.log.Warnw("recycle early-stopping operation", "operation", op.Name, "error", err)
			continue
		}
		r.log.Infow("early-stopping operation recycled", "operation", op.Name)
	}
}
