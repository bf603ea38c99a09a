package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusFulfilled Status = "FULFILLED"
)

// validTransitions is the fixed lifecycle graph. REJECTED and FULFILLED are
// terminal.
var validTransitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusFulfilled},
	StatusRejected:  {},
	StatusFulfilled: {},
}

// CanTransition reports whether the lifecycle graph allows from → to.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PurchaseOrder is the aggregate root. PONumber stays empty until submission
// assigns it exactly once. TotalAmount is a projection of the current lines
// and is recomputed inside the same transaction as every line mutation.
type PurchaseOrder struct {
	ID             uuid.UUID
	PONumber       string
	Status         Status
	SupplierCode   string
	SupplierName   string
	TotalAmount    decimal.Decimal
	Requestor      string
	CostCenter     string
	NeededByDate   *time.Time
	PaymentTerms   string
	Notes          string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []LineItem
	Timeline       []TimelineEntry
}

// LineItem stores a frozen snapshot of the catalog item as captured at
// add-time. Later catalog changes never alter an existing line.
type LineItem struct {
	ID            uuid.UUID
	POID          uuid.UUID
	CatalogItemID string
	Quantity      int
	ItemName      string
	ItemModel     string
	Manufacturer  string
	UnitPrice     decimal.Decimal
	LeadTimeDays  int
	InStock       bool
	SupplierCode  string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TimelineEntry is one immutable audit record of a status change. FromStatus
// is empty for the creation entry.
type TimelineEntry struct {
	ID         int64
	POID       uuid.UUID
	FromStatus Status
	ToStatus   Status
	ChangedBy  string
	Notes      string
	CreatedAt  time.Time
}

// POSummary is the list projection with the derived line count.
type POSummary struct {
	ID           uuid.UUID
	PONumber     string
	Status       Status
	SupplierCode string
	SupplierName string
	TotalAmount  decimal.Decimal
	LineCount    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HeaderPatch carries the only header fields writable while a PO is DRAFT.
// A nil field is left unchanged.
type HeaderPatch struct {
	Requestor    *string
	CostCenter   *string
	NeededByDate *time.Time
	PaymentTerms *string
	Notes        *string
}

// Empty reports whether the patch carries no fields at all.
func (p HeaderPatch) Empty() bool {
	return p.Requestor == nil && p.CostCenter == nil && p.NeededByDate == nil &&
		p.PaymentTerms == nil && p.Notes == nil
}

// DiscontinuedNote overwrites a line's notes when its catalog item is
// discontinued upstream.
const DiscontinuedNote = "ITEM DISCONTINUED — review required"

var (
	// ErrNotFound indicates the PO or line is absent or not owned by the
	// given parent.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrInvalidState occurs when an operation violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state")
	// ErrSupplierMismatch is the SUPPLIER_MISMATCH conflict: a line's supplier
	// does not match the PO's locked supplier.
	ErrSupplierMismatch = errors.New("procurement: supplier mismatch")
	// ErrDuplicateKey indicates a unique constraint violation, e.g. two racing
	// creates with the same idempotency key.
	ErrDuplicateKey = errors.New("procurement: duplicate key")
)

// TransitionError wraps ErrInvalidState naming the illegal pair.
func TransitionError(from, to Status) error {
	return fmt.Errorf("%w: invalid transition %s -> %s", ErrInvalidState, from, to)
}
