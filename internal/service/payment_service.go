package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentService creates gateway payment intents and settles orders on a
// verified payment callback
type PaymentService struct {
	store    *store.Store
	gateway  PaymentGateway
	locker   Locker
	settler  *Settler
	currency string
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	store *store.Store,
	gateway PaymentGateway,
	locker Locker,
	settler *Settler,
	currency string,
	lockTTL time.Duration,
) *PaymentService {
	if currency == "" {
		currency = "INR"
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		locker:   locker,
		settler:  settler,
		currency: currency,
		lockTTL:  lockTTL,
		logger:   util.Component("payments"),
	}
}

// PaymentIntent is what the client needs to open the hosted checkout
type PaymentIntent struct {
	OrderID        int64  `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

// VerifyPaymentRequest is the payment callback forwarded by the client
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// CreatePaymentIntent registers the order with the gateway. Calling it again
// for the same unsettled order creates a fresh intent.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, userID, orderID int64) (*PaymentIntent, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	if order.PaymentMethod != models.PaymentMethodOnline {
		return nil, apperr.Validation("payment_method", "order %s is not paid online", order.OrderNumber)
	}
	if order.Settled() {
		return nil, apperr.Conflict("order %s is already paid", order.OrderNumber)
	}
	if order.OrderStatus == models.OrderStatusCancelled {
		return nil, apperr.Conflict("order %s is cancelled", order.OrderNumber)
	}

	amount := pricing.ToMinorUnits(order.GrandTotal)
	intent, err := s.gateway.CreateOrder(ctx, amount, s.currency, order.OrderNumber)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if err := s.store.SetGatewayOrderID(ctx, order.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	s.logger.Info("Payment intent created",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_id", intent.ID),
		zap.Int64("amount", amount))

	return &PaymentIntent{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: intent.ID,
		Amount:         amount,
		Currency:       s.currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

// VerifyPayment checks the callback signature and settles the order. A
// mismatching signature changes nothing. A repeated verified callback
// returns the already settled order.
func (s *PaymentService) VerifyPayment(ctx context.Context, userID int64, req *VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment",
		attribute.String("gateway_order_id", req.GatewayOrderID))
	defer span.End()

	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, apperr.Validation("payment", "gateway_order_id, gateway_payment_id and signature are required")
	}

	lockKey := "payment:" + req.GatewayOrderID
	token, ok, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("payment for %s is already being processed", req.GatewayOrderID)
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
			s.logger.Warn("Failed to release payment lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	if !s.gateway.VerifyPaymentSignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		util.SignatureFailuresTotal.Inc()
		s.logger.Warn("Payment signature mismatch",
			zap.Bool("fraud_signal", true),
			zap.Int64("user_id", userID),
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		err := &apperr.SignatureVerificationError{GatewayOrderID: req.GatewayOrderID}
		util.RecordError(span, err)
		return nil, err
	}
	util.PaymentVerifiedTotal.Inc()

	order, err := s.store.GetOrderByGatewayOrderID(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.NotFound("order", req.GatewayOrderID)
	}
	if order.Settled() {
		s.logger.Info("Payment already settled",
			zap.Int64("order_id", order.ID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		return order, nil
	}

	return s.settler.Settle(ctx, order, req.GatewayPaymentID)
}
