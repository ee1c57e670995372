package store

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, title, brand, category_id, price, discount, gst, cgst, stock,
	sizes, colors, images, is_active, is_featured, created_at, updated_at`

// CreateProduct inserts a product and its variant stock rows
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		p.CreatedAt = tx.now
		p.UpdatedAt = tx.now
		if p.Sizes == nil {
			p.Sizes = []string{}
		}
		if p.Colors == nil {
			p.Colors = []string{}
		}
		if p.Images == nil {
			p.Images = []string{}
		}

		query := rebind(tx.tx, `
			INSERT INTO products (title, brand, category_id, price, discount, gst, cgst, stock,
				sizes, colors, images, is_active, is_featured, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)
		err := tx.tx.GetContext(ctx, &p.ID, query,
			p.Title, p.Brand, p.CategoryID, p.Price, p.Discount, p.GST, p.CGST, p.Stock,
			p.Sizes, p.Colors, p.Images, p.IsActive, p.IsFeatured, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}

		for i := range p.Variants {
			p.Variants[i].ProductID = p.ID
			if err := setVariantStock(ctx, tx.tx, p.ID, p.Variants[i].Size, p.Variants[i].Color, p.Variants[i].Stock); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetProductByID retrieves a product and its variant stock
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		s.db.Rebind("SELECT "+productColumns+" FROM products WHERE id = ?"), id)
	if isNoRows(err) {
		return nil, apperr.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &product.Variants,
		s.db.Rebind("SELECT product_id, size, color, stock FROM product_variants WHERE product_id = ? ORDER BY size, color"),
		id); err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products, with variants, keyed by ID.
// Unknown ids are absent from the map.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := inClause(s.db, "SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}
	for i := range products {
		out[products[i].ID] = &products[i]
	}

	query, args, err = inClause(s.db,
		"SELECT product_id, size, color, stock FROM product_variants WHERE product_id IN (?) ORDER BY size, color", ids)
	if err != nil {
		return nil, err
	}
	var variants []models.VariantStock
	if err := s.db.SelectContext(ctx, &variants, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	for _, v := range variants {
		if p, ok := out[v.ProductID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return out, nil
}

// ListProducts returns the catalog ordered by id
func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY id"

	var products []models.Product
	err := s.db.SelectContext(ctx, &products, query)
	return products, err
}

// SetProductStock overwrites the flat stock of a product
func (s *Store) SetProductStock(ctx context.Context, productID int64, stock int) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE products SET stock = ?, updated_at = ? WHERE id = ?"),
		stock, s.now(), productID)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return expectOne(res, "product", productID)
}

// SetVariantStock overwrites (or creates) the stock of one size/color
// combination.
func (s *Store) SetVariantStock(ctx context.Context, productID int64, size, color string, stock int) error {
	if _, err := s.GetProductByID(ctx, productID); err != nil {
		return err
	}
	return setVariantStock(ctx, s.db, productID, size, color, stock)
}

func setVariantStock(ctx context.Context, q sqlx.ExtContext, productID int64, size, color string, stock int) error {
	_, err := q.ExecContext(ctx, rebind(q, `
		INSERT INTO product_variants (product_id, size, color, stock)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (product_id, size, color) DO UPDATE SET stock = excluded.stock`),
		productID, size, color, stock)
	if err != nil {
		return fmt.Errorf("failed to set variant stock: %w", err)
	}
	return nil
}
