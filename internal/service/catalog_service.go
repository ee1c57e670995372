package service

import (
	"context"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CatalogService exposes products and the user's saved addresses
type CatalogService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store) *CatalogService {
	return &CatalogService{
		store:  store,
		logger: util.Component("catalog"),
	}
}

// CreateProduct validates pricing and stores a product with its variants
func (s *CatalogService) CreateProduct(ctx context.Context, p *models.Product) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if strings.TrimSpace(p.Title) == "" {
		return apperr.Validation("title", "is required")
	}
	if err := pricing.ValidateProduct(p.Price, p.Discount, p.GST, p.CGST); err != nil {
		return apperr.Validation("price", "%s", err.Error())
	}
	if p.Stock < 0 {
		return apperr.Validation("stock", "must not be negative")
	}
	for _, v := range p.Variants {
		if v.Stock < 0 {
			return apperr.Validation("variants", "stock must not be negative")
		}
		if !contains(p.Sizes, v.Size) || !contains(p.Colors, v.Color) {
			return apperr.Validation("variants", "%s/%s is not an offered size and color", v.Size, v.Color)
		}
	}

	if err := s.store.CreateProduct(ctx, p); err != nil {
		return err
	}
	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("title", p.Title))
	return nil
}

// GetProduct returns a product with its variant stock
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.store.GetProductByID(ctx, id)
}

// ListProducts returns the active catalog
func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.store.ListProducts(ctx, true)
}

// AddAddress saves a complete address for the user
func (s *CatalogService) AddAddress(ctx context.Context, userID int64, a *models.Address) error {
	a.UserID = userID
	if missing := a.Snapshot().MissingFields(); len(missing) > 0 {
		return apperr.Validation("address", "missing %s", strings.Join(missing, ", "))
	}
	return s.store.CreateAddress(ctx, a)
}

// ListAddresses returns the user's saved addresses
func (s *CatalogService) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	return s.store.GetAddresses(ctx, userID)
}
