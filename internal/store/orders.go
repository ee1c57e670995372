package store

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, order_number, user_id, items, subtotal, discount_total, gst_total, cgst_total,
	grand_total, shipping_address, payment_method, payment_status, order_status, gateway_order_id,
	gateway_payment_id, tracking_number, courier_name, settled_at, stock_restored, created_at, updated_at`

// CreateOrder inserts a new order. A collision on order_number returns
// ErrDuplicateOrderNumber so the caller can retry with a fresh number.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO orders (order_number, user_id, items, subtotal, discount_total, gst_total, cgst_total,
			grand_total, shipping_address, payment_method, payment_status, order_status,
			gateway_order_id, gateway_payment_id, tracking_number, courier_name, stock_restored,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	err := s.db.GetContext(ctx, &order.ID, query,
		order.OrderNumber, order.UserID, order.Items, order.Subtotal, order.DiscountTotal,
		order.GSTTotal, order.CGSTTotal, order.GrandTotal, order.ShippingAddress,
		order.PaymentMethod, order.PaymentStatus, order.OrderStatus,
		order.GatewayOrderID, order.GatewayPaymentID, order.TrackingNumber, order.CourierName,
		false, now, now)
	if isUniqueViolation(err) {
		return ErrDuplicateOrderNumber
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func getOrder(ctx context.Context, q sqlx.ExtContext, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, q, &order, rebind(q, "SELECT "+orderColumns+" FROM orders WHERE "+where+" = ?"), arg)
	if isNoRows(err) {
		return nil, apperr.NotFound("order", arg)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, s.db, "id", id)
}

// GetOrderByNumber retrieves an order by its public order number
func (s *Store) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return getOrder(ctx, s.db, "order_number", number)
}

// GetOrderByGatewayOrderID retrieves the order a payment intent belongs to
func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	if gatewayOrderID == "" {
		return nil, apperr.NotFound("order", "gateway order id")
	}
	return getOrder(ctx, s.db, "gateway_order_id", gatewayOrderID)
}

// GetOrderByID reads the order through the transaction
func (t *Tx) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, t.tx, "id", id)
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		s.db.Rebind("SELECT "+orderColumns+" FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC"), userID)
	return orders, err
}

// OrderFilter narrows the admin order listing
type OrderFilter struct {
	Status models.OrderStatus
	Limit  int
	Offset int
}

// ListOrders returns orders newest first
func (s *Store) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders"
	var args []interface{}
	if f.Status != "" {
		query += " WHERE order_status = ?"
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), args...)
	return orders, err
}

// SetGatewayOrderID records the payment intent created for an unsettled order
func (s *Store) SetGatewayOrderID(ctx context.Context, orderID int64, gatewayOrderID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE orders SET gateway_order_id = ?, updated_at = ?
		WHERE id = ? AND settled_at IS NULL`),
		gatewayOrderID, s.now(), orderID)
	if err != nil {
		return fmt.Errorf("failed to store gateway order id: %w", err)
	}
	return expectOne(res, "unsettled order", orderID)
}

// DeleteOrders removes orders by id and reports how many were deleted
func (s *Store) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := inClause(s.db, "DELETE FROM orders WHERE id IN (?)", ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders: %w", err)
	}
	return res.RowsAffected()
}

// Settlement is the state an order moves to once paid for (or placed as COD)
type Settlement struct {
	PaymentStatus    models.PaymentStatus
	OrderStatus      models.OrderStatus
	GatewayPaymentID string
}

// MarkSettled finalises an order exactly once. Only a pending order can
// settle. It reports false when the order was already settled or has moved
// on (for example cancelled by an admin before the payment arrived).
func (t *Tx) MarkSettled(ctx context.Context, orderID int64, st Settlement) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE orders
		SET payment_status = ?, order_status = ?, gateway_payment_id = ?, settled_at = ?, updated_at = ?
		WHERE id = ? AND settled_at IS NULL AND order_status = ?`),
		st.PaymentStatus, st.OrderStatus, st.GatewayPaymentID, t.now, t.now, orderID, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to settle order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TransitionStatus moves the order from one status to another. The update is
// conditional on the current status so a concurrent transition cannot be
// overwritten; it reports false when the order was no longer in from.
func (t *Tx) TransitionStatus(ctx context.Context, orderID int64, from models.OrderStatus, u models.StatusUpdate) (bool, error) {
	query := `UPDATE orders SET order_status = ?, updated_at = ?`
	args := []interface{}{u.Status, t.now}
	if u.TrackingNumber != "" {
		query += ", tracking_number = ?"
		args = append(args, u.TrackingNumber)
	}
	if u.CourierName != "" {
		query += ", courier_name = ?"
		args = append(args, u.CourierName)
	}
	query += " WHERE id = ? AND order_status = ?"
	args = append(args, orderID, from)

	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkStockRestored flags a settled order's stock as returned. It reports
// false if the flag was already set or the order never took stock.
func (t *Tx) MarkStockRestored(ctx context.Context, orderID int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE orders SET stock_restored = TRUE, updated_at = ?
		WHERE id = ? AND settled_at IS NOT NULL AND stock_restored = FALSE`),
		t.now, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark stock restored: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
