package procurement

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/refinery-erp/refinery-erp/internal/catalog"
	"github.com/refinery-erp/refinery-erp/internal/platform/httpx"
)

// ConflictCodeSupplierMismatch is the machine-readable reason code clients
// rely on to distinguish the single-supplier conflict from other 409s.
const ConflictCodeSupplierMismatch = "SUPPLIER_MISMATCH"

// respondError maps domain errors to HTTP responses. Taxonomized errors
// report actionable detail; anything unclassified reports a generic failure
// so internal detail never leaks to the boundary.
func respondError(w http.ResponseWriter, err error) {
	var upstream *catalog.UpstreamError
	switch {
	case errors.Is(err, ErrSupplierMismatch):
		httpx.ProblemWithCode(w, http.StatusConflict, "Conflict", err.Error(), ConflictCodeSupplierMismatch)
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrDuplicateKey):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, catalog.ErrUnavailable):
		httpx.Problem(w, http.StatusBadGateway, "Upstream Unavailable", err.Error())
	case errors.As(err, &upstream):
		httpx.Problem(w, upstream.StatusCode, "Upstream Error", upstream.Message)
	default:
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// Handler exposes the purchase order JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createDraft)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.updateHeader)
	r.Delete("/{id}", h.deleteDraft)

	r.Get("/{id}/lines", h.listLines)
	r.Post("/{id}/lines", h.addLine)
	r.Patch("/{id}/lines/{lineID}", h.updateLine)
	r.Delete("/{id}/lines/{lineID}", h.removeLine)

	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/fulfill", h.fulfill)
}

type createDraftRequest struct {
	SupplierCode   string `json:"supplierCode" validate:"required"`
	SupplierName   string `json:"supplierName" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "supplierCode and supplierName are required")
		return
	}
	po, err := h.service.CreateDraft(r.Context(), CreateDraftInput{
		SupplierCode:   req.SupplierCode,
		SupplierName:   req.SupplierName,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("create draft", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPOResponse(po))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := h.service.List(r.Context(), ListRequest{
		Status: Status(r.URL.Query().Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		respondError(w, err)
		return
	}
	summaries := make([]poSummaryResponse, 0, len(result.PurchaseOrders))
	for _, s := range result.PurchaseOrders {
		summaries = append(summaries, toSummaryResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchaseOrders": summaries,
		"pagination":     result.Pagination,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	po, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOResponse(po))
}

type headerPatchRequest struct {
	Requestor    *string `json:"requestor"`
	CostCenter   *string `json:"costCenter"`
	NeededByDate *string `json:"neededByDate"`
	PaymentTerms *string `json:"paymentTerms"`
	Notes        *string `json:"notes"`
}

func (h *Handler) updateHeader(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req headerPatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	patch := HeaderPatch{
		Requestor:    req.Requestor,
		CostCenter:   req.CostCenter,
		PaymentTerms: req.PaymentTerms,
		Notes:        req.Notes,
	}
	if req.NeededByDate != nil {
		date, err := time.Parse("2006-01-02", *req.NeededByDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "neededByDate must be YYYY-MM-DD")
			return
		}
		patch.NeededByDate = &date
	}
	po, err := h.service.UpdateDraftHeader(r.Context(), id, patch)
	if err != nil {
		h.logger.Error("update draft header", slog.Any("error", err), slog.String("id", id.String()))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOResponse(po))
}

func (h *Handler) deleteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.DeleteDraft(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listLines(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	po, err := h.service.FindByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	lines := make([]lineResponse, 0, len(po.Lines))
	for _, l := range po.Lines {
		lines = append(lines, toLineResponse(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lineItems": lines})
}

type addLineRequest struct {
	CatalogItemID string `json:"catalogItemId" validate:"required"`
	Quantity      int    `json:"quantity"`
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req addLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "catalogItemId is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	line, err := h.service.AddLineItem(r.Context(), id, req.CatalogItemID, req.Quantity)
	if err != nil {
		h.logger.Error("add line item", slog.Any("error", err), slog.String("id", id.String()))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLineResponse(line))
}

type updateLineRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	lineID, err := parseID(r, "lineID")
	if err != nil {
		respondError(w, err)
		return
	}
	var req updateLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	line, err := h.service.UpdateLineItem(r.Context(), id, lineID, req.Quantity)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLineResponse(line))
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	lineID, err := parseID(r, "lineID")
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.service.RemoveLineItem(r.Context(), id, lineID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	ChangedBy string `json:"changedBy"`
	Notes     string `json:"notes"`
}

func decodeTransition(r *http.Request) transitionRequest {
	var req transitionRequest
	// Empty or absent bodies fall back to role defaults.
	_ = httpx.DecodeJSON(r, &req)
	return req
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	req := decodeTransition(r)
	po, err := h.service.Submit(r.Context(), id, req.ChangedBy, req.Notes)
	if err != nil {
		h.logger.Error("submit PO", slog.Any("error", err), slog.String("id", id.String()))
		respondError(w, err)
		return
	}
	h.logger.Info("PO submitted", slog.String("id", po.ID.String()), slog.String("po_number", po.PONumber))
	httpx.JSON(w, http.StatusOK, toPOResponse(po))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, to Status, defaultActor, defaultNotes string) {
	id, err := parseID(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	req := decodeTransition(r)
	if req.ChangedBy == "" {
		req.ChangedBy = defaultActor
	}
	if req.Notes == "" {
		req.Notes = defaultNotes
	}
	po, err := h.service.Transition(r.Context(), id, to, req.ChangedBy, req.Notes)
	if err != nil {
		h.logger.Error("transition PO", slog.Any("error", err),
			slog.String("id", id.String()), slog.String("to", string(to)))
		respondError(w, err)
		return
	}
	h.logger.Info("PO transitioned", slog.String("id", po.ID.String()), slog.String("status", string(po.Status)))
	httpx.JSON(w, http.StatusOK, toPOResponse(po))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusApproved, "Approver", "PO approved")
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusRejected, "Approver", "PO rejected")
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, StatusFulfilled, "Warehouse", "PO fulfilled")
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", ErrValidation)
	}
	return id, nil
}

// Response view models.

type poResponse struct {
	ID           string             `json:"id"`
	PONumber     string             `json:"poNumber,omitempty"`
	Status       Status             `json:"status"`
	SupplierCode string             `json:"supplierCode"`
	SupplierName string             `json:"supplierName"`
	TotalAmount  string             `json:"totalAmount"`
	Requestor    string             `json:"requestor,omitempty"`
	CostCenter   string             `json:"costCenter,omitempty"`
	NeededByDate *string            `json:"neededByDate,omitempty"`
	PaymentTerms string             `json:"paymentTerms,omitempty"`
	Notes        string             `json:"notes,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	LineItems    []lineResponse     `json:"lineItems"`
	Timeline     []timelineResponse `json:"timeline"`
}

type lineResponse struct {
	ID            string    `json:"id"`
	POID          string    `json:"poId"`
	CatalogItemID string    `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	ItemName      string    `json:"itemName"`
	ItemModel     string    `json:"itemModel"`
	Manufacturer  string    `json:"manufacturer"`
	UnitPrice     string    `json:"unitPrice"`
	LeadTimeDays  int       `json:"leadTimeDays"`
	InStock       bool      `json:"inStock"`
	SupplierCode  string    `json:"supplierCode"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type timelineResponse struct {
	FromStatus string    `json:"fromStatus,omitempty"`
	ToStatus   Status    `json:"toStatus"`
	ChangedBy  string    `json:"changedBy"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type poSummaryResponse struct {
	ID           string    `json:"id"`
	PONumber     string    `json:"poNumber,omitempty"`
	Status       Status    `json:"status"`
	SupplierCode string    `json:"supplierCode"`
	SupplierName string    `json:"supplierName"`
	TotalAmount  string    `json:"totalAmount"`
	LineCount    int       `json:"lineCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toPOResponse(po PurchaseOrder) poResponse {
	resp := poResponse{
		ID:           po.ID.String(),
		PONumber:     po.PONumber,
		Status:       po.Status,
		SupplierCode: po.SupplierCode,
		SupplierName: po.SupplierName,
		TotalAmount:  po.TotalAmount.StringFixed(2),
		Requestor:    po.Requestor,
		CostCenter:   po.CostCenter,
		PaymentTerms: po.PaymentTerms,
		Notes:        po.Notes,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
		LineItems:    []lineResponse{},
		Timeline:     []timelineResponse{},
	}
	if po.NeededByDate != nil {
		date := po.NeededByDate.Format("2006-01-02")
		resp.NeededByDate = &date
	}
	for _, l := range po.Lines {
		resp.LineItems = append(resp.LineItems, toLineResponse(l))
	}
	for _, e := range po.Timeline {
		resp.Timeline = append(resp.Timeline, timelineResponse{
			FromStatus: string(e.FromStatus),
			ToStatus:   e.ToStatus,
			ChangedBy:  e.ChangedBy,
			Notes:      e.Notes,
			CreatedAt:  e.CreatedAt,
		})
	}
	return resp
}

func toLineResponse(l LineItem) lineResponse {
	return lineResponse{
		ID:            l.ID.String(),
		POID:          l.POID.String(),
		CatalogItemID: l.CatalogItemID,
		Quantity:      l.Quantity,
		ItemName:      l.ItemName,
		ItemModel:     l.ItemModel,
		Manufacturer:  l.Manufacturer,
		UnitPrice:     l.UnitPrice.StringFixed(2),
		LeadTimeDays:  l.LeadTimeDays,
		InStock:       l.InStock,
		SupplierCode:  l.SupplierCode,
		Notes:         l.Notes,
		CreatedAt:     l.CreatedAt,
	}
}

func toSummaryResponse(s POSummary) poSummaryResponse {
	return poSummaryResponse{
		ID:           s.ID.String(),
		PONumber:     s.PONumber,
		Status:       s.Status,
		SupplierCode: s.SupplierCode,
		SupplierName: s.SupplierName,
		TotalAmount:  s.TotalAmount.StringFixed(2),
		LineCount:    s.LineCount,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
