package store

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

const reviewColumns = "id, product_id, user_id, rating, comment, status, created_at, updated_at"

// CreateReview inserts a review awaiting moderation
func (s *Store) CreateReview(ctx context.Context, r *models.Review) error {
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	query := s.db.Rebind(`
		INSERT INTO reviews (product_id, user_id, rating, comment, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err := s.db.GetContext(ctx, &r.ID, query,
		r.ProductID, r.UserID, r.Rating, r.Comment, r.Status, now, now); err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// GetReview retrieves a review by ID
func (s *Store) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	var r models.Review
	err := s.db.GetContext(ctx, &r, s.db.Rebind("SELECT "+reviewColumns+" FROM reviews WHERE id = ?"), id)
	if isNoRows(err) {
		return nil, apperr.NotFound("review", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ModerateReview moves a review out of from. It reports false when the
// review was not in from any more.
func (s *Store) ModerateReview(ctx context.Context, id int64, from, to models.ReviewStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE reviews SET status = ?, updated_at = ? WHERE id = ? AND status = ?"),
		to, s.now(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListReviews returns reviews for a product with the given status, newest first
func (s *Store) ListReviews(ctx context.Context, productID int64, status models.ReviewStatus) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews, s.db.Rebind(
		"SELECT "+reviewColumns+" FROM reviews WHERE product_id = ? AND status = ? ORDER BY created_at DESC, id DESC"),
		productID, status)
	return reviews, err
}

// ListReviewsByStatus returns all reviews in a moderation state
func (s *Store) ListReviewsByStatus(ctx context.Context, status models.ReviewStatus) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews, s.db.Rebind(
		"SELECT "+reviewColumns+" FROM reviews WHERE status = ? ORDER BY created_at, id"), status)
	return reviews, err
}
