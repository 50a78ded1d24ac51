package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of *pgxpool.Pool the Postgres stores use.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres-backed Store.
type PGStore struct{ DB DB }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `id, order_number, buyer_id, total_amount, currency, status, payment_status,
	payment_method, gateway_session_id, payment_intent_id, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.BuyerID, &o.TotalAmount, &o.Currency, &o.Status, &o.PaymentStatus,
		&o.PaymentMethod, &o.GatewaySessionID, &o.PaymentIntentID, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts the order and its items and takes the stock for every line,
// all in one transaction. Any line that cannot be taken rolls back the lot.
func (r *PGStore) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := takeStock(ctx, tx, o.Items); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, buyer_id, total_amount, currency, status, payment_status,
		                   payment_method, gateway_session_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		o.ID, o.OrderNumber, o.BuyerID, o.TotalAmount, o.Currency, o.Status, o.PaymentStatus,
		o.PaymentMethod, o.GatewaySessionID, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, name, unit_price, quantity, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.ID, i, it.ProductID, it.Name, it.UnitPrice, it.Quantity, it.ImageURL,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PGStore) ByNumber(ctx context.Context, number string) (*Order, error) {
	return r.one(ctx, r.DB, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number)
}

func (r *PGStore) ByID(ctx context.Context, id string) (*Order, error) {
	return r.one(ctx, r.DB, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *PGStore) one(ctx context.Context, q querier, sql string, arg any) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, err
	}
	items, err := loadItems(ctx, q, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *PGStore) ListByBuyer(ctx context.Context, q ListQuery) (Page, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders WHERE buyer_id=$1 AND ($2 = '' OR status=$2)`,
		q.BuyerID, string(q.Status),
	).Scan(&total); err != nil {
		return Page{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE buyer_id=$1 AND ($2 = '' OR status=$2)
		ORDER BY created_at DESC, order_number DESC
		LIMIT $3 OFFSET $4`,
		q.BuyerID, string(q.Status), q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var out []Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return Page{}, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return Page{}, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return newPage(out, q, total), nil
}

func (r *PGStore) AttachSession(ctx context.Context, id, sessionID string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET gateway_session_id=$2, updated_at=now() WHERE id=$1`, id, sessionID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGStore) Transition(ctx context.Context, id string, from, to State, opts TransitionOpts) (*Order, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status=$4, payment_status=$5,
		    payment_intent_id=COALESCE(NULLIF($6, ''), payment_intent_id),
		    updated_at=now()
		WHERE id=$1 AND status=$2 AND payment_status=$3
		RETURNING `+orderColumns,
		id, from.Status, from.PaymentStatus, to.Status, to.PaymentStatus, opts.PaymentIntentID))
	if errors.Is(err, ErrNotFound) {
		var cur State
		err := tx.QueryRow(ctx, `SELECT status, payment_status FROM orders WHERE id=$1`, id).
			Scan(&cur.Status, &cur.PaymentStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", ErrStateConflict, id, cur, from)
	}
	if err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, tx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]

	if opts.ReleaseStock {
		if err := releaseStock(ctx, tx, o.Items); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PGStore) Override(ctx context.Context, number string, ov Override) (*Order, State, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, State{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	var prev State
	err = tx.QueryRow(ctx, `SELECT id, status, payment_status FROM orders WHERE order_number=$1 FOR UPDATE`, number).
		Scan(&id, &prev.Status, &prev.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, State{}, ErrNotFound
	}
	if err != nil {
		return nil, State{}, err
	}

	notes := ""
	if ov.Notes != nil {
		notes = *ov.Notes
	}
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status=COALESCE(NULLIF($2, ''), status),
		    payment_status=COALESCE(NULLIF($3, ''), payment_status),
		    notes=CASE WHEN $4::boolean THEN $5 ELSE notes END,
		    updated_at=now()
		WHERE id=$1
		RETURNING `+orderColumns,
		id, string(ov.Status), string(ov.PaymentStatus), ov.Notes != nil, notes))
	if err != nil {
		return nil, State{}, err
	}

	cur := o.State()
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_audit(order_id, actor, prev_status, prev_payment_status, new_status, new_payment_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, ov.Actor, prev.Status, prev.PaymentStatus, cur.Status, cur.PaymentStatus, ov.Notes,
	); err != nil {
		return nil, State{}, fmt.Errorf("insert audit: %w", err)
	}

	items, err := loadItems(ctx, tx, []string{o.ID})
	if err != nil {
		return nil, State{}, err
	}
	o.Items = items[o.ID]

	if err := tx.Commit(ctx); err != nil {
		return nil, State{}, err
	}
	return o, prev, nil
}

func (r *PGStore) PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='pending' AND payment_status='pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]LineItem, error) {
	out := make(map[string][]LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity, image_url
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var it LineItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.ImageURL); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}
