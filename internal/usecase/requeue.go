package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

// Requeuer lets an operator push failed or stuck papers back to pending.
// It is the only path back to pending; no stage does it automatically.
type Requeuer struct {
	store  ports.PaperStore
	logger *slog.Logger
}

// NewRequeuer builds the operator re-queue use case.
func NewRequeuer(store ports.PaperStore, logger *slog.Logger) *Requeuer {
	return &Requeuer{store: store, logger: loggerOrDiscard(logger)}
}

// Requeue moves the given papers back to pending. Papers in any status other
// than failed or processing are left untouched. It returns how many moved.
func (r *Requeuer) Requeue(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := r.store.Requeue(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("requeue papers: %w", err)
	}
	r.logger.Info("papers requeued", "requested", len(ids), "moved", n)
	return n, nil
}

// RequeueStatus re-queues every paper currently in status.
func (r *Requeuer) RequeueStatus(ctx context.Context, status domain.Status) (int, error) {
	if !status.Requeueable() {
		return 0, fmt.Errorf("%w: papers in %s cannot be requeued", domain.ErrInvalidTransition, status)
	}
	papers, err := r.store.FindByStatus(ctx, status)
	if err != nil {
		return 0, fmt.Errorf("load %s papers: %w", status, err)
	}
	ids := make([]int64, 0, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
	}
	return r.Requeue(ctx, ids)
}
