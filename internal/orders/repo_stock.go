package orders

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
)

// takeStock decrements every product on the order, or none of them.
// Products are touched in id order so two concurrent checkouts sharing
// products lock rows in the same sequence.
func takeStock(ctx context.Context, tx pgx.Tx, items []LineItem) error {
	need := map[string]int{}
	for _, it := range items {
		need[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		q := need[id]
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $2,
			    is_in_stock = stock_quantity - $2 > 0,
			    updated_at = now()
			WHERE id=$1 AND is_active AND stock_quantity >= $2`, id, q)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 1 {
			continue
		}
		return unavailable(ctx, tx, id, q)
	}
	return nil
}

// unavailable explains why a conditional decrement matched no row.
func unavailable(ctx context.Context, tx pgx.Tx, id string, requested int) error {
	e := &UnavailableError{ProductID: id, Requested: requested}
	var active bool
	err := tx.QueryRow(ctx, `SELECT name, stock_quantity, is_active FROM products WHERE id=$1`, id).
		Scan(&e.Name, &e.Available, &active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		e.Reason = ReasonNotFound
	case err != nil:
		return err
	case !active:
		e.Reason = ReasonInactive
	case e.Available <= 0:
		e.Reason = ReasonOutOfStock
	default:
		e.Reason = ReasonInsufficientStock
	}
	return e
}

func releaseStock(ctx context.Context, tx pgx.Tx, items []LineItem) error {
	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity + $2, is_in_stock = true, updated_at = now()
			WHERE id=$1`, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// PGCatalog reads products from Postgres.
type PGCatalog struct{ DB DB }

func (c *PGCatalog) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := c.DB.Query(ctx, `
		SELECT id, sku, slug, name, image_url, price, discount_price, stock_quantity, is_in_stock, is_active
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Slug, &p.Name, &p.ImageURL, &p.Price, &p.DiscountPrice,
			&p.StockQuantity, &p.IsInStock, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
