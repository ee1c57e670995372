package service

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockLedger applies an order's lines to inventory. Every change runs inside
// the caller's transaction so it commits or rolls back with the order.
type StockLedger struct {
	store  *store.Store
	logger *zap.Logger
}

// NewStockLedger creates a new stock ledger
func NewStockLedger(store *store.Store) *StockLedger {
	return &StockLedger{
		store:  store,
		logger: util.Component("stock"),
	}
}

func lineKey(l models.OrderLine) store.StockKey {
	return store.StockKey{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

// Commit decrements stock for every line of the order. The first line that
// cannot be covered aborts with InsufficientStockError.
func (l *StockLedger) Commit(ctx context.Context, tx *store.Tx, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Commit")
	defer span.End()

	for _, line := range order.Items {
		if err := tx.DecrementStock(ctx, lineKey(line), line.Quantity); err != nil {
			if apperr.Is[*apperr.InsufficientStockError](err) {
				util.StockConflictsTotal.Inc()
				l.logger.Warn("Stock decrement rejected",
					zap.Int64("order_id", order.ID),
					zap.Int64("product_id", line.ProductID),
					zap.String("size", line.Size),
					zap.String("color", line.Color),
					zap.Int("quantity", line.Quantity))
			}
			util.RecordError(span, err)
			return err
		}
	}
	return nil
}

// Restore returns a settled order's stock exactly once. It reports false
// when there was nothing to return. Lines whose product or variant has since
// been deleted are skipped.
func (l *StockLedger) Restore(ctx context.Context, tx *store.Tx, order *models.Order) (bool, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Restore")
	defer span.End()

	marked, err := tx.MarkStockRestored(ctx, order.ID)
	if err != nil || !marked {
		return false, err
	}

	for _, line := range order.Items {
		err := tx.Restock(ctx, lineKey(line), line.Quantity)
		if apperr.Is[*apperr.NotFoundError](err) {
			l.logger.Warn("Skipping restock of removed stock bucket",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", line.ProductID),
				zap.String("size", line.Size),
				zap.String("color", line.Color))
			continue
		}
		if err != nil {
			util.RecordError(span, err)
			return false, err
		}
	}

	util.StockRestoredTotal.Inc()
	return true, nil
}

// SetStock sets the absolute stock of a product, or of one variant when both
// size and color are given
func (l *StockLedger) SetStock(ctx context.Context, productID int64, size, color string, stock int) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.SetStock")
	defer span.End()

	if stock < 0 {
		return apperr.Validation("stock", "must not be negative")
	}
	if (size == "") != (color == "") {
		return apperr.Validation("variant", "size and color must be given together")
	}

	var err error
	if size != "" {
		err = l.store.SetVariantStock(ctx, productID, size, color, stock)
	} else {
		err = l.store.SetProductStock(ctx, productID, stock)
	}
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}

	l.logger.Info("Stock set",
		zap.Int64("product_id", productID),
		zap.String("size", size),
		zap.String("color", color),
		zap.Int("stock", stock))
	return nil
}

// Level returns the current stock of one bucket
func (l *StockLedger) Level(ctx context.Context, productID int64, size, color string) (int, error) {
	return l.store.StockLevel(ctx, store.StockKey{ProductID: productID, Size: size, Color: color})
}
