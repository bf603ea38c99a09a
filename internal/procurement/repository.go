package procurement

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/refinery-erp/refinery-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside a transaction. Every
// read-modify-write path locks the PO row first so concurrent mutations of
// the same aggregate serialize behind each other.
type TxRepository interface {
	LockPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error)
	FindByIdempotencyKey(ctx context.Context, key string) (PurchaseOrder, bool, error)
	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	UpdateHeader(ctx context.Context, id uuid.UUID, patch HeaderPatch) error
	DeletePO(ctx context.Context, id uuid.UUID) error

	InsertLine(ctx context.Context, line LineItem) (LineItem, error)
	UpdateLineQuantity(ctx context.Context, poID, lineID uuid.UUID, quantity int) (LineItem, error)
	DeleteLine(ctx context.Context, poID, lineID uuid.UUID) error
	CountLines(ctx context.Context, poID uuid.UUID) (int, error)
	RecomputeTotal(ctx context.Context, poID uuid.UUID) (decimal.Decimal, error)

	NextPONumber(ctx context.Context) (string, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status, poNumber string) error
	InsertTimelineEntry(ctx context.Context, entry TimelineEntry) error

	FlagDiscontinuedLines(ctx context.Context, catalogItemID string) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a transaction; any error rolls the whole unit
// back before it propagates.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if err != nil {
		return translatePgError(err)
	}
	return nil
}

const poColumns = `id, COALESCE(po_number, ''), status, supplier_code, supplier_name,
	total_amount, requestor, cost_center, needed_by_date, payment_terms, notes,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.PONumber, &po.Status, &po.SupplierCode, &po.SupplierName,
		&po.TotalAmount, &po.Requestor, &po.CostCenter, &po.NeededByDate, &po.PaymentTerms,
		&po.Notes, &po.IdempotencyKey, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetPO returns the PO header with materialized lines and timeline. The two
// child collections load concurrently on separate pool connections.
func (r *Repository) GetPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lines, err := r.loadLines(gctx, id)
		if err != nil {
			return err
		}
		po.Lines = lines
		return nil
	})
	g.Go(func() error {
		timeline, err := r.loadTimeline(gctx, id)
		if err != nil {
			return err
		}
		po.Timeline = timeline
		return nil
	})
	if err := g.Wait(); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *Repository) loadLines(ctx context.Context, poID uuid.UUID) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, po_id, catalog_item_id, quantity, item_name, item_model, manufacturer,
			unit_price, lead_time_days, in_stock, supplier_code, notes, created_at, updated_at
		FROM po_line_items WHERE po_id = $1 ORDER BY created_at`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []LineItem
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *Repository) loadTimeline(ctx context.Context, poID uuid.UUID) ([]TimelineEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, po_id, COALESCE(from_status, ''), to_status, changed_by, notes, created_at
		FROM po_status_timeline WHERE po_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timeline []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.POID, &e.FromStatus, &e.ToStatus, &e.ChangedBy,
			&e.Notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		timeline = append(timeline, e)
	}
	return timeline, rows.Err()
}

// ListRequest filters the PO listing.
type ListRequest struct {
	Status Status
	Page   int
	Limit  int
}

// List returns PO summaries ordered by most-recently updated, with the total
// count for pagination.
func (r *Repository) List(ctx context.Context, req ListRequest) ([]POSummary, int, error) {
	countSQL := `SELECT COUNT(*) FROM purchase_orders WHERE 1=1`
	dataSQL := `SELECT po.id, COALESCE(po.po_number, ''), po.status, po.supplier_code,
		po.supplier_name, po.total_amount,
		(SELECT COUNT(*) FROM po_line_items li WHERE li.po_id = po.id) AS line_count,
		po.created_at, po.updated_at
	FROM purchase_orders po WHERE 1=1`

	args := []any{}
	argNum := 1
	if req.Status != "" {
		clause := ` AND status = $` + strconv.Itoa(argNum)
		countSQL += clause
		dataSQL += ` AND po.status = $` + strconv.Itoa(argNum)
		args = append(args, req.Status)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 15
	}
	page := req.Page
	if page <= 0 {
		page = 1
	}
	dataSQL += ` ORDER BY po.updated_at DESC LIMIT $` + strconv.Itoa(argNum) +
		` OFFSET $` + strconv.Itoa(argNum+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []POSummary
	for rows.Next() {
		var s POSummary
		if err := rows.Scan(&s.ID, &s.PONumber, &s.Status, &s.SupplierCode, &s.SupplierName,
			&s.TotalAmount, &s.LineCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Transaction repository implementation.

// LockPO reads the PO header under FOR UPDATE, serializing every concurrent
// mutation of the same aggregate for the rest of the transaction.
func (tx *txRepo) LockPO(ctx context.Context, id uuid.UUID) (PurchaseOrder, error) {
	return scanPO(tx.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
}

func (tx *txRepo) FindByIdempotencyKey(ctx context.Context, key string) (PurchaseOrder, bool, error) {
	po, err := scanPO(tx.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE idempotency_key = $1`, key))
	if errors.Is(err, ErrNotFound) {
		return PurchaseOrder{}, false, nil
	}
	if err != nil {
		return PurchaseOrder{}, false, err
	}
	return po, true, nil
}

func (tx *txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	var key *string
	if po.IdempotencyKey != "" {
		key = &po.IdempotencyKey
	}
	return scanPO(tx.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (supplier_code, supplier_name, status, idempotency_key)
		VALUES ($1, $2, $3, $4)
		RETURNING `+poColumns,
		po.SupplierCode, po.SupplierName, po.Status, key))
}

func (tx *txRepo) UpdateHeader(ctx context.Context, id uuid.UUID, patch HeaderPatch) error {
	setClauses := ""
	args := []any{}
	argNum := 1
	add := func(column string, value any) {
		setClauses += column + ` = $` + strconv.Itoa(argNum) + `, `
		args = append(args, value)
		argNum++
	}
	if patch.Requestor != nil {
		add("requestor", *patch.Requestor)
	}
	if patch.CostCenter != nil {
		add("cost_center", *patch.CostCenter)
	}
	if patch.NeededByDate != nil {
		add("needed_by_date", *patch.NeededByDate)
	}
	if patch.PaymentTerms != nil {
		add("payment_terms", *patch.PaymentTerms)
	}
	if patch.Notes != nil {
		add("notes", *patch.Notes)
	}
	if len(args) == 0 {
		return ErrValidation
	}
	args = append(args, id)
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET `+setClauses+`updated_at = NOW() WHERE id = $`+strconv.Itoa(argNum), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeletePO(ctx context.Context, id uuid.UUID) error {
	// Line items cascade via FK.
	tag, err := tx.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) InsertLine(ctx context.Context, line LineItem) (LineItem, error) {
	row := tx.tx.QueryRow(ctx, `
		INSERT INTO po_line_items (po_id, catalog_item_id, quantity, item_name, item_model,
			manufacturer, unit_price, lead_time_days, in_stock, supplier_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, po_id, catalog_item_id, quantity, item_name, item_model, manufacturer,
			unit_price, lead_time_days, in_stock, supplier_code, notes, created_at, updated_at`,
		line.POID, line.CatalogItemID, line.Quantity, line.ItemName, line.ItemModel,
		line.Manufacturer, line.UnitPrice, line.LeadTimeDays, line.InStock, line.SupplierCode)
	return scanLine(row)
}

func scanLine(row pgx.Row) (LineItem, error) {
	var l LineItem
	err := row.Scan(&l.ID, &l.POID, &l.CatalogItemID, &l.Quantity, &l.ItemName, &l.ItemModel,
		&l.Manufacturer, &l.UnitPrice, &l.LeadTimeDays, &l.InStock, &l.SupplierCode,
		&l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LineItem{}, ErrNotFound
		}
		return LineItem{}, err
	}
	return l, nil
}

func (tx *txRepo) UpdateLineQuantity(ctx context.Context, poID, lineID uuid.UUID, quantity int) (LineItem, error) {
	return scanLine(tx.tx.QueryRow(ctx, `
		UPDATE po_line_items SET quantity = $1, updated_at = NOW()
		WHERE id = $2 AND po_id = $3
		RETURNING id, po_id, catalog_item_id, quantity, item_name, item_model, manufacturer,
			unit_price, lead_time_days, in_stock, supplier_code, notes, created_at, updated_at`,
		quantity, lineID, poID))
}

func (tx *txRepo) DeleteLine(ctx context.Context, poID, lineID uuid.UUID) error {
	tag, err := tx.tx.Exec(ctx, `DELETE FROM po_line_items WHERE id = $1 AND po_id = $2`, lineID, poID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CountLines(ctx context.Context, poID uuid.UUID) (int, error) {
	var count int
	err := tx.tx.QueryRow(ctx, `SELECT COUNT(*) FROM po_line_items WHERE po_id = $1`, poID).Scan(&count)
	return count, err
}

// RecomputeTotal materializes total_amount from the current lines. Runs in the
// same transaction as the line mutation so readers never observe a stale total.
func (tx *txRepo) RecomputeTotal(ctx context.Context, poID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.tx.QueryRow(ctx, `
		UPDATE purchase_orders
		SET total_amount = COALESCE(
			(SELECT SUM(quantity * unit_price) FROM po_line_items WHERE po_id = $1), 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING total_amount`, poID).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	return total, err
}

func (tx *txRepo) NextPONumber(ctx context.Context) (string, error) {
	var number string
	err := tx.tx.QueryRow(ctx, `SELECT generate_po_number()`).Scan(&number)
	return number, err
}

func (tx *txRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status, poNumber string) error {
	var err error
	if poNumber != "" {
		_, err = tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1, po_number = $2, updated_at = NOW() WHERE id = $3`,
			status, poNumber, id)
	} else {
		_, err = tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	}
	return err
}

func (tx *txRepo) InsertTimelineEntry(ctx context.Context, entry TimelineEntry) error {
	_, err := tx.tx.Exec(ctx, `
		INSERT INTO po_status_timeline (po_id, from_status, to_status, changed_by, notes)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`,
		entry.POID, entry.FromStatus, entry.ToStatus, entry.ChangedBy, entry.Notes)
	return err
}

// FlagDiscontinuedLines annotates lines referencing the item on POs still in
// DRAFT. Advisory only; lines on submitted or later POs are left untouched.
func (tx *txRepo) FlagDiscontinuedLines(ctx context.Context, catalogItemID string) (int64, error) {
	tag, err := tx.tx.Exec(ctx, `
		UPDATE po_line_items
		SET notes = $1, updated_at = NOW()
		WHERE catalog_item_id = $2
		  AND po_id IN (SELECT id FROM purchase_orders WHERE status = $3)`,
		DiscontinuedNote, catalogItemID, StatusDraft)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// translatePgError classifies unique violations so racing creates with the
// same idempotency key surface as a conflict instead of a raw driver error.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}
