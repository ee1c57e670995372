package store

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

const cartColumns = "id, user_id, product_id, quantity, size, color, created_at, updated_at"

// AddCartItem inserts a line or, when the user already holds the same
// product/size/color, adds to its quantity.
func (s *Store) AddCartItem(ctx context.Context, item *models.CartItem) error {
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO cart_items (user_id, product_id, quantity, size, color, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, product_id, size, color)
		DO UPDATE SET quantity = cart_items.quantity + excluded.quantity, updated_at = excluded.updated_at
		RETURNING id, quantity`)

	row := s.db.QueryRowxContext(ctx, query,
		item.UserID, item.ProductID, item.Quantity, item.Size, item.Color, now, now)
	if err := row.Scan(&item.ID, &item.Quantity); err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

// UpdateCartItemQuantity sets the quantity of a line owned by userID
func (s *Store) UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE cart_items SET quantity = ?, updated_at = ? WHERE id = ? AND user_id = ?"),
		quantity, s.now(), itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return expectOne(res, "cart item", itemID)
}

// RemoveCartItem deletes a line owned by userID
func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM cart_items WHERE id = ? AND user_id = ?"), itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return expectOne(res, "cart item", itemID)
}

// GetCartItems returns the user's cart in insertion order
func (s *Store) GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.db.SelectContext(ctx, &items,
		s.db.Rebind("SELECT "+cartColumns+" FROM cart_items WHERE user_id = ? ORDER BY id"), userID)
	return items, err
}

// GetCartLines joins the cart with the current products
func (s *Store) GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	items, err := s.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]models.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, models.CartLine{Item: it, Product: products[it.ProductID]})
	}
	return lines, nil
}

// ClearCart empties the user's cart
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM cart_items WHERE user_id = ?"), userID)
	return err
}

// RemoveOrderedLines deletes the cart lines an order was placed from. Lines
// added after checkout stay in the cart.
func (t *Tx) RemoveOrderedLines(ctx context.Context, userID int64, lines models.OrderLines) error {
	query := t.tx.Rebind("DELETE FROM cart_items WHERE user_id = ? AND product_id = ? AND size = ? AND color = ?")
	for _, l := range lines {
		if _, err := t.tx.ExecContext(ctx, query, userID, l.ProductID, l.Size, l.Color); err != nil {
			return fmt.Errorf("failed to remove ordered cart line: %w", err)
		}
	}
	return nil
}

// GetCartItem returns one line owned by userID
func (s *Store) GetCartItem(ctx context.Context, userID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item,
		s.db.Rebind("SELECT "+cartColumns+" FROM cart_items WHERE id = ? AND user_id = ?"), itemID, userID)
	if isNoRows(err) {
		return nil, apperr.NotFound("cart item", itemID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
