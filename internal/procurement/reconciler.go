package procurement

import (
	"context"
	"log/slog"
)

// Reconciler applies catalog-change events to procurement data. It is
// advisory only: it annotates lines on draft POs and never deletes lines or
// forces a status change. Its writes go through the same transactional store
// as synchronous requests.
type Reconciler struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewReconciler constructs a reconciler.
func NewReconciler(repo RepositoryPort, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, logger: logger}
}

// ItemDiscontinued flags every line referencing the item on a PO still in
// DRAFT. Lines on submitted or later POs keep their frozen snapshot
// untouched. An error leaves the event unacknowledged so the broker
// redelivers it.
func (r *Reconciler) ItemDiscontinued(ctx context.Context, itemID string) error {
	var flagged int64
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		flagged, err = tx.FlagDiscontinuedLines(ctx, itemID)
		return err
	})
	if err != nil {
		return err
	}
	r.logger.Info("flagged discontinued item on draft POs",
		slog.String("item_id", itemID), slog.Int64("lines", flagged))
	return nil
}

// ItemUpdated acknowledges a catalog price or availability change. Existing
// lines keep the snapshot captured at add-time, so there is nothing to
// rewrite; the event is logged for traceability.
func (r *Reconciler) ItemUpdated(ctx context.Context, itemID string) error {
	r.logger.Info("catalog item updated, snapshots left frozen", slog.String("item_id", itemID))
	return nil
}
