package procurement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/refinery-erp/refinery-erp/internal/catalog"
	"github.com/refinery-erp/refinery-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	List(ctx context.Context, req ListRequest) ([]POSummary, int, error)
}

// CatalogPort exposes the catalog lookup needed when adding a line item.
type CatalogPort interface {
	GetItem(ctx context.Context, id string) (catalog.ItemSnapshot, error)
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, catalog CatalogPort) *Service {
	return &Service{repo: repo, catalog: catalog}
}

// CreateDraftInput describes draft creation.
type CreateDraftInput struct {
	SupplierCode   string
	SupplierName   string
	IdempotencyKey string
}

// CreateDraft inserts a new DRAFT PO together with its creation timeline
// entry. When the idempotency key is already recorded the existing PO is
// returned unchanged, so client retries cannot produce duplicates.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (PurchaseOrder, error) {
	if strings.TrimSpace(input.SupplierCode) == "" || strings.TrimSpace(input.SupplierName) == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: supplierCode and supplierName are required", ErrValidation)
	}
	var created PurchaseOrder
	var replayed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.IdempotencyKey != "" {
			existing, found, err := tx.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				created = existing
				replayed = true
				return nil
			}
		}
		po, err := tx.InsertPO(ctx, PurchaseOrder{
			SupplierCode:   input.SupplierCode,
			SupplierName:   input.SupplierName,
			Status:         StatusDraft,
			IdempotencyKey: input.IdempotencyKey,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertTimelineEntry(ctx, TimelineEntry{
			POID:      po.ID,
			ToStatus:  StatusDraft,
			ChangedBy: "System",
			Notes:     "PO created",
		}); err != nil {
			return err
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if replayed {
		// Replays return the stored aggregate, lines and all.
		return s.repo.GetPO(ctx, created.ID)
	}
	return created, nil
}

// AddLineItem fetches a live catalog snapshot, then inserts the line under
// the PO row lock. The snapshot is taken before the lock so the outbound call
// never executes inside the critical section; the supplier constraint is
// re-validated against the locked row.
func (s *Service) AddLineItem(ctx context.Context, poID uuid.UUID, catalogItemID string, quantity int) (LineItem, error) {
	if catalogItemID == "" {
		return LineItem{}, fmt.Errorf("%w: catalogItemId is required", ErrValidation)
	}
	if quantity < 1 {
		return LineItem{}, fmt.Errorf("%w: quantity must be >= 1", ErrValidation)
	}
	item, err := s.catalog.GetItem(ctx, catalogItemID)
	if err != nil {
		return LineItem{}, err
	}

	var created LineItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: can only add items to DRAFT purchase orders", ErrInvalidState)
		}
		if item.SupplierCode != "" && item.SupplierCode != po.SupplierCode {
			return fmt.Errorf("%w: PO is for %q, item belongs to %q",
				ErrSupplierMismatch, po.SupplierCode, item.SupplierCode)
		}
		created, err = tx.InsertLine(ctx, LineItem{
			POID:          poID,
			CatalogItemID: catalogItemID,
			Quantity:      quantity,
			ItemName:      item.Name,
			ItemModel:     item.Model,
			Manufacturer:  item.Manufacturer,
			UnitPrice:     item.PriceUSD,
			LeadTimeDays:  item.LeadTimeDays,
			InStock:       item.InStock,
			SupplierCode:  item.SupplierCode,
		})
		if err != nil {
			return err
		}
		_, err = tx.RecomputeTotal(ctx, poID)
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	return created, nil
}

// UpdateLineItem changes a line's quantity and recomputes the total in the
// same transaction.
func (s *Service) UpdateLineItem(ctx context.Context, poID, lineID uuid.UUID, quantity int) (LineItem, error) {
	if quantity < 1 {
		return LineItem{}, fmt.Errorf("%w: quantity must be >= 1", ErrValidation)
	}
	var updated LineItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: can only modify lines of DRAFT purchase orders", ErrInvalidState)
		}
		updated, err = tx.UpdateLineQuantity(ctx, poID, lineID, quantity)
		if err != nil {
			return err
		}
		_, err = tx.RecomputeTotal(ctx, poID)
		return err
	})
	if err != nil {
		return LineItem{}, err
	}
	return updated, nil
}

// RemoveLineItem deletes a line and recomputes the total. It returns the
// number of lines remaining so callers can apply their own policy for drafts
// whose last line was removed; the store never deletes the draft itself.
func (s *Service) RemoveLineItem(ctx context.Context, poID, lineID uuid.UUID) (int, error) {
	var remaining int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: can only modify lines of DRAFT purchase orders", ErrInvalidState)
		}
		if err := tx.DeleteLine(ctx, poID, lineID); err != nil {
			return err
		}
		if _, err := tx.RecomputeTotal(ctx, poID); err != nil {
			return err
		}
		remaining, err = tx.CountLines(ctx, poID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// UpdateDraftHeader patches the fixed allowlist of header fields on a DRAFT.
func (s *Service) UpdateDraftHeader(ctx context.Context, poID uuid.UUID, patch HeaderPatch) (PurchaseOrder, error) {
	if patch.Empty() {
		return PurchaseOrder{}, fmt.Errorf("%w: no valid fields to update", ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: header is only editable while DRAFT", ErrInvalidState)
		}
		return tx.UpdateHeader(ctx, poID, patch)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return s.repo.GetPO(ctx, poID)
}

// DeleteDraft removes a DRAFT PO; line items cascade.
func (s *Service) DeleteDraft(ctx context.Context, poID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: only DRAFT purchase orders can be deleted", ErrInvalidState)
		}
		return tx.DeletePO(ctx, poID)
	})
}

// FindByID returns the full aggregate with lines and timeline.
func (s *Service) FindByID(ctx context.Context, poID uuid.UUID) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, poID)
}

// ListResult is a page of PO summaries.
type ListResult struct {
	PurchaseOrders []POSummary
	Pagination     shared.Pagination
}

// List returns PO summaries with pagination metadata.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return ListResult{}, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 15
	}
	return ListResult{
		PurchaseOrders: items,
		Pagination:     shared.NewPagination(req.Page, limit, total),
	}, nil
}

// Submit moves a DRAFT with at least one line to SUBMITTED and assigns the
// globally unique PO number exactly once, all under the PO row lock.
func (s *Service) Submit(ctx context.Context, poID uuid.UUID, changedBy, notes string) (PurchaseOrder, error) {
	if changedBy == "" {
		changedBy = "Buyer"
	}
	if notes == "" {
		notes = "PO submitted for approval"
	}
	var submitted PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != StatusDraft {
			return TransitionError(po.Status, StatusSubmitted)
		}
		count, err := tx.CountLines(ctx, poID)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: cannot submit PO with no line items", ErrValidation)
		}
		number, err := tx.NextPONumber(ctx)
		if err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, poID, StatusSubmitted, number); err != nil {
			return err
		}
		if err := tx.InsertTimelineEntry(ctx, TimelineEntry{
			POID:       poID,
			FromStatus: StatusDraft,
			ToStatus:   StatusSubmitted,
			ChangedBy:  changedBy,
			Notes:      notes,
		}); err != nil {
			return err
		}
		submitted = po
		submitted.PONumber = number
		submitted.Status = StatusSubmitted
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return submitted, nil
}

// Transition applies a generic approve/reject/fulfill state change. The
// current status is read under lock and verified against the fixed lifecycle
// graph; illegal pairs fail naming both states and leave nothing mutated.
func (s *Service) Transition(ctx context.Context, poID uuid.UUID, to Status, changedBy, notes string) (PurchaseOrder, error) {
	if changedBy == "" {
		changedBy = "System"
	}
	var result PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if !CanTransition(po.Status, to) {
			return TransitionError(po.Status, to)
		}
		if err := tx.SetStatus(ctx, poID, to, ""); err != nil {
			return err
		}
		if err := tx.InsertTimelineEntry(ctx, TimelineEntry{
			POID:       poID,
			FromStatus: po.Status,
			ToStatus:   to,
			ChangedBy:  changedBy,
			Notes:      notes,
		}); err != nil {
			return err
		}
		result = po
		result.Status = to
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return result, nil
}
