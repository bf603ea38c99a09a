package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/refinery-erp/refinery-erp/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogItemUpdated is emitted when a catalog item's details change.
	TaskCatalogItemUpdated = "catalog:item_updated"
	// TaskCatalogItemDiscontinued is emitted when a catalog item is discontinued.
	TaskCatalogItemDiscontinued = "catalog:item_discontinued"
)

// CatalogEventPayload carries the catalog item a change event refers to.
type CatalogEventPayload struct {
	ItemID string `json:"itemId"`
}

// NewCatalogItemUpdatedTask constructs an item-updated task.
func NewCatalogItemUpdatedTask(payload CatalogEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogItemUpdated, data), nil
}

// NewCatalogItemDiscontinuedTask constructs an item-discontinued task.
func NewCatalogItemDiscontinuedTask(payload CatalogEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogItemDiscontinued, data), nil
}

// CatalogEventHandlers adapts the procurement reconciler to Asynq tasks.
// Handler errors propagate so the queue redelivers; malformed payloads are
// dropped since retrying cannot fix them.
type CatalogEventHandlers struct {
	reconciler *procurement.Reconciler
	logger     *slog.Logger
}

// NewCatalogEventHandlers builds the task handler set.
func NewCatalogEventHandlers(reconciler *procurement.Reconciler, logger *slog.Logger) *CatalogEventHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogEventHandlers{reconciler: reconciler, logger: logger}
}

// HandleItemUpdated processes TaskCatalogItemUpdated tasks.
func (h *CatalogEventHandlers) HandleItemUpdated(ctx context.Context, t *asynq.Task) error {
	var payload CatalogEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ItemID == "" {
		h.logger.Warn("dropping malformed catalog event",
			slog.String("task", t.Type()), slog.Any("error", err))
		return asynq.SkipRetry
	}
	return h.reconciler.ItemUpdated(ctx, payload.ItemID)
}

// HandleItemDiscontinued processes TaskCatalogItemDiscontinued tasks.
func (h *CatalogEventHandlers) HandleItemDiscontinued(ctx context.Context, t *asynq.Task) error {
	var payload CatalogEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ItemID == "" {
		h.logger.Warn("dropping malformed catalog event",
			slog.String("task", t.Type()), slog.Any("error", err))
		return asynq.SkipRetry
	}
	return h.reconciler.ItemDiscontinued(ctx, payload.ItemID)
}
