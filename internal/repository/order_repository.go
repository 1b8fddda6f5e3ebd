package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/animal-market/internal/model"
)

// OrderRepo provides persistence for orders and their lines.  Orders are
// never deleted; settlement, cancellation, expiry and session resolution
// all go through status transitions guarded by a row lock on the order.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions that
// span multiple repositories.
func (r *OrderRepo) DB() *sql.DB { return r.db }

// NewOrderNo generates the random correlation number shared with the
// payment provider.  32 hex characters from crypto/rand.
func NewOrderNo() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateTx inserts a new PENDING order within the scope of an existing
// transaction and populates the generated ID and timestamps on the
// provided record.  The caller must commit or roll back the transaction.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	const q = `INSERT INTO orders (order_no, session_id, buyer_id, total_cents, status, expires_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, o.OrderNo, o.SessionID, o.BuyerID, o.TotalCents, o.Status,
		o.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	const sel = `SELECT created_at, updated_at FROM orders WHERE id = ?`
	return tx.QueryRowContext(ctx, sel, o.ID).Scan(&o.CreatedAt, &o.UpdatedAt)
}

// CreateLinesBulkTx inserts the order's lines in a single statement.  The
// caller must supply the order ID in each record.  Passing an empty slice
// has no effect and returns nil.
func (r *OrderRepo) CreateLinesBulkTx(ctx context.Context, tx *sql.Tx, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	query := `INSERT INTO order_lines (order_id, animal, animal_name, quantity, unit_price_cents, subtotal_cents) VALUES `
	args := make([]interface{}, 0, len(lines)*6)
	for i, l := range lines {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?)"
		args = append(args, l.OrderID, l.Animal, l.AnimalName, l.Quantity, l.UnitPriceCents, l.SubtotalCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// SetPaymentTx stamps the provider reference and checkout link produced by
// the payment-link call, within the same transaction that created the
// order so a provider failure aborts the whole creation.
func (r *OrderRepo) SetPaymentTx(ctx context.Context, tx *sql.Tx, orderID uint64, tradeNo, payURL string) error {
	const q = `UPDATE orders SET trade_no = ?, pay_url = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, tradeNo, payURL, orderID)
	return err
}

const orderColumns = `id, order_no, session_id, buyer_id, total_cents, status, trade_no, pay_url, expires_at, paid_at, created_at, updated_at`

// GetForUpdateTx loads an order by ID while holding a row lock on it.
// Every trigger that may transition an order (webhook, cancel, expiry
// sweep, resolution) must read through this lock before branching on the
// current status; that is what serializes concurrent triggers.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, orderID uint64) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ? FOR UPDATE`
	return scanOrder(tx.QueryRowContext(ctx, q, orderID))
}

// GetByTradeNoForUpdateTx is GetForUpdateTx keyed by the payment
// provider's reference, the handle the settlement webhook carries.
func (r *OrderRepo) GetByTradeNoForUpdateTx(ctx context.Context, tx *sql.Tx, tradeNo string) (*model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE trade_no = ? FOR UPDATE`
	return scanOrder(tx.QueryRowContext(ctx, q, tradeNo))
}

// UpdateStatusTx moves an order to a new status.  Callers are responsible
// for having verified the transition against the state graph under the
// order's row lock.
func (r *OrderRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, orderID uint64, status string) error {
	const q = `UPDATE orders SET status = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, status, orderID)
	return err
}

// MarkPaidTx transitions an order to PAID and stamps the paid time.
func (r *OrderRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, orderID uint64, paidAt time.Time) error {
	const q = `UPDATE orders SET status = ?, paid_at = ? WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, model.OrderPaid, paidAt.UTC().Format("2006-01-02 15:04:05"), orderID)
	return err
}

// LinesTx returns the order's lines inside the given transaction, ordered
// by animal ordinal.  The release and re-reservation paths read lines
// through the transaction so they act on the same snapshot as the locked
// order row.
func (r *OrderRepo) LinesTx(ctx context.Context, tx *sql.Tx, orderID uint64) ([]model.OrderLine, error) {
	const q = `SELECT id, order_id, animal, animal_name, quantity, unit_price_cents, subtotal_cents
	           FROM order_lines WHERE order_id = ? ORDER BY animal ASC`
	rows, err := tx.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLines(rows)
}

// ListExpiredPendingIDs returns the IDs of PENDING orders whose expiry
// deadline has passed.  The sweep then processes each ID through the
// regular lock-then-check-then-transition path, so a webhook landing
// between this read and the per-order lock simply wins the race.
func (r *OrderRepo) ListExpiredPendingIDs(ctx context.Context, limit int) ([]uint64, error) {
	const q = `SELECT id FROM orders WHERE status = ? AND expires_at <= UTC_TIMESTAMP() ORDER BY id ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.OrderPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListPaidIDsBySessionTx returns the IDs of PAID orders in a session,
// used by session resolution to assign WON/LOST.
func (r *OrderRepo) ListPaidIDsBySessionTx(ctx context.Context, tx *sql.Tx, sessionID uint64) ([]uint64, error) {
	const q = `SELECT id FROM orders WHERE session_id = ? AND status = ? ORDER BY id ASC`
	rows, err := tx.QueryContext(ctx, q, sessionID, model.OrderPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// HasAnimalTx reports whether the order holds a line on the given animal.
func (r *OrderRepo) HasAnimalTx(ctx context.Context, tx *sql.Tx, orderID uint64, animal uint32) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM order_lines WHERE order_id = ? AND animal = ?)`
	var ok bool
	if err := tx.QueryRowContext(ctx, q, orderID, animal).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// GetByIDForBuyer returns a single order with its lines, enforcing
// ownership.  ErrOrderNotFound when the order does not exist and
// ErrForbidden when it belongs to a different buyer.
func (r *OrderRepo) GetByIDForBuyer(ctx context.Context, orderID, buyerID uint64) (*model.Order, []model.OrderLine, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	o, err := scanOrder(r.db.QueryRowContext(ctx, q, orderID))
	if err != nil {
		return nil, nil, err
	}
	if o.BuyerID != buyerID {
		return nil, nil, ErrForbidden
	}
	const lq = `SELECT id, order_id, animal, animal_name, quantity, unit_price_cents, subtotal_cents
	            FROM order_lines WHERE order_id = ? ORDER BY animal ASC`
	rows, err := r.db.QueryContext(ctx, lq, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	lines, err := collectLines(rows)
	if err != nil {
		return nil, nil, err
	}
	return o, lines, nil
}

// ListByBuyer returns all of a buyer's orders, newest first, with lines
// populated in a single follow-up query.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]model.Order, map[uint64][]model.OrderLine, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, buyerID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	linesByOrder := make(map[uint64][]model.OrderLine, len(orders))
	if len(orders) == 0 {
		return orders, linesByOrder, nil
	}
	ids := make([]interface{}, 0, len(orders))
	placeholders := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		placeholders = append(placeholders, "?")
	}
	lq := `SELECT id, order_id, animal, animal_name, quantity, unit_price_cents, subtotal_cents
	       FROM order_lines WHERE order_id IN (` + strings.Join(placeholders, ",") + `)
	       ORDER BY order_id, animal ASC`
	lrows, err := r.db.QueryContext(ctx, lq, ids...)
	if err != nil {
		return nil, nil, err
	}
	defer lrows.Close()
	lines, err := collectLines(lrows)
	if err != nil {
		return nil, nil, err
	}
	for _, l := range lines {
		linesByOrder[l.OrderID] = append(linesByOrder[l.OrderID], l)
	}
	return orders, linesByOrder, nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	o, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return o, nil
}

func scanOrderRow(row rowScanner) (*model.Order, error) {
	var o model.Order
	var tradeNo, payURL sql.NullString
	var paidAt sql.NullTime
	err := row.Scan(&o.ID, &o.OrderNo, &o.SessionID, &o.BuyerID, &o.TotalCents, &o.Status,
		&tradeNo, &payURL, &o.ExpiresAt, &paidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.TradeNo = tradeNo.String
	o.PayURL = payURL.String
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		o.PaidAt = &t
	}
	return &o, nil
}

func collectLines(rows *sql.Rows) ([]model.OrderLine, error) {
	var lines []model.OrderLine
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Animal, &l.AnimalName, &l.Quantity, &l.UnitPriceCents, &l.SubtotalCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
