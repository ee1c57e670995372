package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var errAlreadySettled = errors.New("order already settled")

// defaultNotifyTimeout bounds the post-commit publishes so a slow broker
// cannot hold the buyer's request.
const defaultNotifyTimeout = 3 * time.Second

// notifyContext detaches post-commit work from the request's cancellation
// and bounds it with timeout. Trace values are kept.
func notifyContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Settler finalises pending orders: stock is taken, the order is marked
// settled and its lines leave the cart in one transaction. Events and the invoice follow the
// commit and never undo it.
type Settler struct {
	store     *store.Store
	ledger    *StockLedger
	publisher EventPublisher
	emitter   InvoiceEmitter
	logger    *zap.Logger

	notifyTimeout time.Duration
}

// NewSettler creates a new settler
func NewSettler(store *store.Store, ledger *StockLedger, publisher EventPublisher, emitter InvoiceEmitter) *Settler {
	return &Settler{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		emitter:   emitter,
		logger:    util.Component("settlement"),

		notifyTimeout: defaultNotifyTimeout,
	}
}

// settlementFor returns the state a settled order moves to. COD orders stay
// pending until delivery; a verified online payment confirms the order.
func settlementFor(order *models.Order, gatewayPaymentID string) store.Settlement {
	if order.PaymentMethod == models.PaymentMethodCOD {
		return store.Settlement{
			PaymentStatus: models.PaymentStatusPending,
			OrderStatus:   models.OrderStatusPending,
		}
	}
	return store.Settlement{
		PaymentStatus:    models.PaymentStatusCompleted,
		OrderStatus:      models.OrderStatusConfirmed,
		GatewayPaymentID: gatewayPaymentID,
	}
}

// Settle settles the order once. A repeated call returns the already settled
// order without touching stock; an order that left pending meanwhile is a
// ConflictError.
func (s *Settler) Settle(ctx context.Context, order *models.Order, gatewayPaymentID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Settler.Settle",
		attribute.Int64("order_id", order.ID),
		attribute.String("payment_method", string(order.PaymentMethod)))
	defer span.End()

	start := time.Now()
	st := settlementFor(order, gatewayPaymentID)

	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		settled, err := tx.MarkSettled(ctx, order.ID, st)
		if err != nil {
			return err
		}
		if !settled {
			current, err := tx.GetOrderByID(ctx, order.ID)
			if err != nil {
				return err
			}
			if current.Settled() {
				return errAlreadySettled
			}
			return apperr.Conflict("order %s is %s and can no longer be settled",
				current.OrderNumber, current.OrderStatus)
		}
		if err := s.ledger.Commit(ctx, tx, order); err != nil {
			return err
		}
		return tx.RemoveOrderedLines(ctx, order.UserID, order.Items)
	})
	if errors.Is(err, errAlreadySettled) {
		s.logger.Info("Order already settled", zap.Int64("order_id", order.ID))
		return s.store.GetOrderByID(ctx, order.ID)
	}
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("settlement").Inc()
		if order.PaymentMethod == models.PaymentMethodOnline && gatewayPaymentID != "" {
			s.logger.Error("Verified payment could not be settled, refund required",
				zap.Int64("order_id", order.ID),
				zap.String("order_number", order.OrderNumber),
				zap.String("gateway_payment_id", gatewayPaymentID),
				zap.Error(err))
		}
		return nil, err
	}

	util.SettlementLatency.Observe(time.Since(start).Seconds())
	util.OrdersSettledTotal.WithLabelValues(string(order.PaymentMethod)).Inc()

	settled, err := s.store.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload settled order: %w", err)
	}

	s.logger.Info("Order settled",
		zap.Int64("order_id", settled.ID),
		zap.String("order_number", settled.OrderNumber),
		zap.String("payment_status", string(settled.PaymentStatus)))

	s.afterSettle(ctx, settled)
	return settled, nil
}

func (s *Settler) afterSettle(ctx context.Context, order *models.Order) {
	ctx, cancel := notifyContext(ctx, s.notifyTimeout)
	defer cancel()

	event := &models.OrderSettledEvent{
		BaseEvent:        broker.NewBaseEvent(models.EventTypeOrderSettled),
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		PaymentMethod:    order.PaymentMethod,
		PaymentStatus:    order.PaymentStatus,
		GatewayPaymentID: order.GatewayPaymentID,
	}
	if err := s.publisher.PublishOrderSettled(ctx, event); err != nil {
		s.logger.Error("Failed to publish order settled event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	if err := s.emitter.IssueInvoice(ctx, order); err != nil {
		s.logger.Error("Failed to issue invoice",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
