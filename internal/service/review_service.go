package service

import (
	"context"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const maxReviewLength = 2000

// ReviewService handles product reviews and their moderation
type ReviewService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(store *store.Store) *ReviewService {
	return &ReviewService{
		store:  store,
		logger: util.Component("reviews"),
	}
}

// SubmitReviewRequest represents a new review
type SubmitReviewRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

// Submit stores a review awaiting moderation
func (s *ReviewService) Submit(ctx context.Context, userID, productID int64, req *SubmitReviewRequest) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Submit")
	defer span.End()

	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.Validation("rating", "must be between 1 and 5")
	}
	comment := strings.TrimSpace(req.Comment)
	if len(comment) > maxReviewLength {
		return nil, apperr.Validation("comment", "must be at most %d characters", maxReviewLength)
	}
	if _, err := s.store.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}

	review := &models.Review{
		ProductID: productID,
		UserID:    userID,
		Rating:    req.Rating,
		Comment:   comment,
		Status:    models.ReviewPending,
	}
	if err := s.store.CreateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

// Moderate approves or rejects a pending review
func (s *ReviewService) Moderate(ctx context.Context, reviewID int64, to models.ReviewStatus) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Moderate")
	defer span.End()

	if to != models.ReviewApproved && to != models.ReviewRejected {
		return nil, apperr.Validation("status", "must be %q or %q", models.ReviewApproved, models.ReviewRejected)
	}

	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.ModerateReview(ctx, reviewID, models.ReviewPending, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("review %d is already %s", reviewID, review.Status)
	}

	s.logger.Info("Review moderated", zap.Int64("review_id", reviewID), zap.String("status", string(to)))
	return s.store.GetReview(ctx, reviewID)
}

// ListApproved returns the approved reviews of a product
func (s *ReviewService) ListApproved(ctx context.Context, productID int64) ([]models.Review, error) {
	return s.store.ListReviews(ctx, productID, models.ReviewApproved)
}

// ListPending returns reviews awaiting moderation
func (s *ReviewService) ListPending(ctx context.Context) ([]models.Review, error) {
	return s.store.ListReviewsByStatus(ctx, models.ReviewPending)
}
