package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/apperr"

	"github.com/jmoiron/sqlx"
)

// StockKey addresses one stock bucket. Size and Color select a variant only
// when both are set and the product tracks variants.
type StockKey struct {
	ProductID int64
	Size      string
	Color     string
}

// DecrementStock removes qty units from the bucket in a single conditional
// UPDATE. Zero affected rows means the bucket did not hold qty units and
// yields InsufficientStockError.
func (t *Tx) DecrementStock(ctx context.Context, key StockKey, qty int) error {
	return adjustStock(ctx, t.tx, t.now, key, -qty)
}

// Restock returns qty units to the bucket
func (t *Tx) Restock(ctx context.Context, key StockKey, qty int) error {
	return adjustStock(ctx, t.tx, t.now, key, qty)
}

// DecrementStock runs a single decrement in its own transaction
func (s *Store) DecrementStock(ctx context.Context, key StockKey, qty int) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.DecrementStock(ctx, key, qty)
	})
}

// StockLevel reads the current stock of the bucket addressed by key
func (s *Store) StockLevel(ctx context.Context, key StockKey) (int, error) {
	variant, err := usesVariant(ctx, s.db, key)
	if err != nil {
		return 0, err
	}

	var stock int
	if variant {
		err = s.db.GetContext(ctx, &stock, s.db.Rebind(
			"SELECT stock FROM product_variants WHERE product_id = ? AND size = ? AND color = ?"),
			key.ProductID, key.Size, key.Color)
		if isNoRows(err) {
			return 0, nil
		}
	} else {
		err = s.db.GetContext(ctx, &stock, s.db.Rebind("SELECT stock FROM products WHERE id = ?"), key.ProductID)
		if isNoRows(err) {
			return 0, apperr.NotFound("product", key.ProductID)
		}
	}
	return stock, err
}

func usesVariant(ctx context.Context, q sqlx.ExtContext, key StockKey) (bool, error) {
	if key.Size == "" || key.Color == "" {
		return false, nil
	}
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		rebind(q, "SELECT COUNT(*) FROM product_variants WHERE product_id = ?"), key.ProductID)
	if err != nil {
		return false, fmt.Errorf("failed to inspect variants: %w", err)
	}
	return n > 0, nil
}

// adjustStock applies delta to the bucket. Negative deltas are guarded by
// stock >= -delta so concurrent buyers cannot both take the last unit.
func adjustStock(ctx context.Context, q sqlx.ExtContext, now time.Time, key StockKey, delta int) error {
	variant, err := usesVariant(ctx, q, key)
	if err != nil {
		return err
	}

	need := 0
	if delta < 0 {
		need = -delta
	}

	var res sql.Result
	if variant {
		res, err = q.ExecContext(ctx, rebind(q, `
			UPDATE product_variants SET stock = stock + ?
			WHERE product_id = ? AND size = ? AND color = ? AND stock >= ?`),
			delta, key.ProductID, key.Size, key.Color, need)
	} else {
		res, err = q.ExecContext(ctx, rebind(q, `
			UPDATE products SET stock = stock + ?, updated_at = ?
			WHERE id = ? AND stock >= ?`),
			delta, now, key.ProductID, need)
	}
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if delta > 0 {
			return apperr.NotFound("stock bucket", fmt.Sprintf("%d/%s/%s", key.ProductID, key.Size, key.Color))
		}
		return &apperr.InsufficientStockError{
			ProductID: key.ProductID,
			Size:      key.Size,
			Color:     key.Color,
			Requested: need,
		}
	}
	return nil
}

func expectOne(res sql.Result, resource string, id interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}
