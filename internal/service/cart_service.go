package service

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// BlockReason explains why a cart line prevents checkout
type BlockReason string

const (
	BlockProductUnavailable BlockReason = "product_unavailable"
	BlockSizeRequired       BlockReason = "size_required"
	BlockColorRequired      BlockReason = "color_required"
	BlockOutOfStock         BlockReason = "out_of_stock"
	BlockExceedsStock       BlockReason = "exceeds_stock"
)

// stockOnly reports whether the reason is about quantity rather than the
// line's selection
func (r BlockReason) stockOnly() bool {
	return r == BlockOutOfStock || r == BlockExceedsStock
}

// BlockingLine is a cart line that must be fixed before checkout
type BlockingLine struct {
	ItemID    int64       `json:"item_id"`
	ProductID int64       `json:"product_id"`
	Size      string      `json:"size,omitempty"`
	Color     string      `json:"color,omitempty"`
	Reason    BlockReason `json:"reason"`
	Requested int         `json:"requested"`
	Available int         `json:"available"`
}

// ValidateCart returns the lines that block checkout, in cart order. It only
// reads the lines and never corrects them.
func ValidateCart(lines []models.CartLine) []BlockingLine {
	var blocking []BlockingLine
	for _, l := range lines {
		b := BlockingLine{
			ItemID:    l.Item.ID,
			ProductID: l.Item.ProductID,
			Size:      l.Item.Size,
			Color:     l.Item.Color,
			Requested: l.Item.Quantity,
		}

		p := l.Product
		switch {
		case p == nil || !p.IsActive:
			b.Reason = BlockProductUnavailable
		case p.RequiresSize() && l.Item.Size == "":
			b.Reason = BlockSizeRequired
		case p.RequiresColor() && l.Item.Color == "":
			b.Reason = BlockColorRequired
		default:
			b.Available = p.StockFor(l.Item.Size, l.Item.Color)
			if b.Available <= 0 {
				b.Available = 0
				b.Reason = BlockOutOfStock
			} else if l.Item.Quantity > b.Available {
				b.Reason = BlockExceedsStock
			}
		}

		if b.Reason != "" {
			blocking = append(blocking, b)
		}
	}
	return blocking
}

// checkoutBlocked converts blocking lines into the error checkout returns
func checkoutBlocked(blocking []BlockingLine) error {
	if len(blocking) == 0 {
		return nil
	}
	for _, b := range blocking {
		if !b.Reason.stockOnly() {
			return apperr.Validation("cart", "item %d blocks checkout: %s", b.ItemID, b.Reason)
		}
	}
	b := blocking[0]
	return &apperr.InsufficientStockError{
		ProductID: b.ProductID,
		Size:      b.Size,
		Color:     b.Color,
		Requested: b.Requested,
	}
}

// AddItemRequest represents an item added to the cart
type AddItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// CartSummary is the cart as displayed to the buyer. Totals are computed in
// tax-inclusive mode with the global rates.
type CartSummary struct {
	Lines       []models.CartLine `json:"lines"`
	Subtotal    string            `json:"subtotal"`
	Discount    string            `json:"discount"`
	Taxable     string            `json:"taxable"`
	GST         string            `json:"gst"`
	CGST        string            `json:"cgst"`
	Total       string            `json:"total"`
	Blocking    []BlockingLine    `json:"blocking"`
	CanCheckout bool              `json:"can_checkout"`
}

// CartService manages the buyer's cart
type CartService struct {
	store    *store.Store
	settings *SettingsService
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store *store.Store, settings *SettingsService) *CartService {
	return &CartService{
		store:    store,
		settings: settings,
		logger:   util.Component("cart"),
	}
}

// AddItem adds a product to the cart, merging with an existing line of the
// same product, size and color
func (s *CartService) AddItem(ctx context.Context, userID int64, req *AddItemRequest) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if req.Quantity < 1 {
		return nil, apperr.Validation("quantity", "must be at least 1")
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, apperr.Validation("product_id", "product %d is not available", req.ProductID)
	}
	if req.Size != "" && !contains(product.Sizes, req.Size) {
		return nil, apperr.Validation("size", "%q is not offered", req.Size)
	}
	if req.Color != "" && !contains(product.Colors, req.Color) {
		return nil, apperr.Validation("color", "%q is not offered", req.Color)
	}

	item := &models.CartItem{
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	}
	if err := s.store.AddCartItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateQuantity sets the quantity of a cart line
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	if quantity < 1 {
		return apperr.Validation("quantity", "must be at least 1")
	}
	return s.store.UpdateCartItemQuantity(ctx, userID, itemID, quantity)
}

// RemoveItem deletes a cart line
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	return s.store.RemoveCartItem(ctx, userID, itemID)
}

// Clear empties the cart
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	return s.store.ClearCart(ctx, userID)
}

// GetCart returns the cart with display totals and its blocking lines
func (s *CartService) GetCart(ctx context.Context, userID int64) (*CartSummary, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	lines, err := s.store.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	rates, err := s.settings.TaxRates(ctx)
	if err != nil {
		return nil, err
	}

	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		if l.Product == nil {
			continue
		}
		priced = append(priced, pricing.Line{
			UnitPrice:   l.Product.Price,
			Quantity:    l.Item.Quantity,
			DiscountPct: l.Product.Discount,
		})
	}
	totals := pricing.Inclusive(priced, rates)
	blocking := ValidateCart(lines)

	return &CartSummary{
		Lines:       lines,
		Subtotal:    pricing.Round2(totals.Subtotal).StringFixed(2),
		Discount:    pricing.Round2(totals.Discount).StringFixed(2),
		Taxable:     pricing.Round2(totals.Taxable).StringFixed(2),
		GST:         pricing.Round2(totals.GST).StringFixed(2),
		CGST:        pricing.Round2(totals.CGST).StringFixed(2),
		Total:       pricing.Round2(totals.Grand).StringFixed(2),
		Blocking:    blocking,
		CanCheckout: len(lines) > 0 && len(blocking) == 0,
	}, nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
