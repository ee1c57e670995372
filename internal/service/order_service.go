package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/notify"
	"storefront/internal/pricing"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultOrderNumberAttempts = 5

// OrderService handles checkout and the order lifecycle
type OrderService struct {
	store          *store.Store
	idempotency    IdempotencyStore
	eventPublisher EventPublisher
	emitter        InvoiceEmitter
	settler        *Settler
	ledger         *StockLedger
	payments       *PaymentService
	settings       *SettingsService
	logger         *zap.Logger

	idempotencyTTL time.Duration
	numberAttempts int
	notifyTimeout  time.Duration
	orderNumber    func() string
}

// OrderOptions tunes checkout behaviour
type OrderOptions struct {
	IdempotencyTTL      time.Duration
	OrderNumberAttempts int
	// NotifyTimeout bounds event publishing after a change is committed
	NotifyTimeout time.Duration
}

// NewOrderService creates a new order service
func NewOrderService(
	store *store.Store,
	idempotency IdempotencyStore,
	eventPublisher EventPublisher,
	emitter InvoiceEmitter,
	settler *Settler,
	ledger *StockLedger,
	payments *PaymentService,
	settings *SettingsService,
	opts OrderOptions,
) *OrderService {
	if opts.OrderNumberAttempts <= 0 {
		opts.OrderNumberAttempts = defaultOrderNumberAttempts
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 10 * time.Minute
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	return &OrderService{
		store:          store,
		idempotency:    idempotency,
		eventPublisher: eventPublisher,
		emitter:        emitter,
		settler:        settler,
		ledger:         ledger,
		payments:       payments,
		settings:       settings,
		logger:         util.Component("orders"),
		idempotencyTTL: opts.IdempotencyTTL,
		numberAttempts: opts.OrderNumberAttempts,
		notifyTimeout:  opts.NotifyTimeout,
		orderNumber:    newOrderNumber,
	}
}

// newOrderNumber returns ORD-<yyyymmddhhmmss>-<6 hex>
func newOrderNumber() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "ORD-" + time.Now().UTC().Format("20060102150405") + "-" + suffix
}

// CheckoutRequest represents a checkout submission. Either AddressID or
// Address must be given.
type CheckoutRequest struct {
	PaymentMethod  string                  `json:"payment_method" binding:"required"`
	AddressID      int64                   `json:"address_id"`
	Address        *models.ShippingAddress `json:"address"`
	IdempotencyKey string                  `json:"-"`
}

// CheckoutResponse is the placed order, plus the hosted checkout details
// for online payments
type CheckoutResponse struct {
	Order   *models.Order  `json:"order"`
	Payment *PaymentIntent `json:"payment,omitempty"`
}

// Checkout turns the user's cart into an order. COD orders are settled
// immediately; online orders get a gateway payment intent and are settled
// when the payment is verified.
func (s *OrderService) Checkout(ctx context.Context, userID int64, req *CheckoutRequest) (resp *CheckoutResponse, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout", attribute.Int64("user_id", userID))
	defer span.End()
	defer func() {
		if err != nil {
			util.RecordError(span, err)
		}
	}()

	method := models.PaymentMethod(req.PaymentMethod)
	if method != models.PaymentMethodCOD && method != models.PaymentMethodOnline {
		return nil, apperr.Validation("payment_method", "must be %q or %q", models.PaymentMethodCOD, models.PaymentMethodOnline)
	}

	if req.IdempotencyKey != "" {
		key := fmt.Sprintf("checkout:%d:%s", userID, req.IdempotencyKey)
		claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if !claimed {
			s.logger.Info("Duplicate checkout request detected",
				zap.Int64("user_id", userID),
				zap.String("idempotency_key", req.IdempotencyKey))
			return nil, apperr.Conflict("checkout %q already submitted", req.IdempotencyKey)
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := s.idempotency.ReleaseIdempotencyKey(context.Background(), key); rerr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}()
	}

	address, err := s.resolveAddress(ctx, userID, req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_address").Inc()
		return nil, err
	}

	lines, err := s.store.GetCartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, apperr.Validation("cart", "cart is empty")
	}
	if err := checkoutBlocked(ValidateCart(lines)); err != nil {
		util.OrdersFailedTotal.WithLabelValues("blocked_cart").Inc()
		return nil, err
	}

	order, err := s.CreateOrder(ctx, userID, lines, address, method)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	if method == models.PaymentMethodCOD {
		settled, err := s.settler.Settle(ctx, order, "")
		if err != nil {
			return nil, err
		}
		return &CheckoutResponse{Order: settled}, nil
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, userID, order.ID)
	if err != nil {
		s.logger.Error("Payment intent failed for placed order",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		return nil, err
	}
	order.GatewayOrderID = intent.GatewayOrderID
	return &CheckoutResponse{Order: order, Payment: intent}, nil
}

func (s *OrderService) resolveAddress(ctx context.Context, userID int64, req *CheckoutRequest) (models.ShippingAddress, error) {
	var addr models.ShippingAddress
	switch {
	case req.AddressID != 0:
		saved, err := s.store.GetAddress(ctx, userID, req.AddressID)
		if err != nil {
			return addr, err
		}
		addr = saved.Snapshot()
	case req.Address != nil:
		addr = *req.Address
	default:
		return addr, apperr.Validation("address", "address_id or address is required")
	}

	if missing := addr.MissingFields(); len(missing) > 0 {
		return addr, apperr.Validation("address", "missing %s", strings.Join(missing, ", "))
	}
	return addr, nil
}

// CreateOrder writes the order snapshot for the given cart lines. Totals are
// computed in exclusive mode from each product's own rates. A colliding
// order number is regenerated a bounded number of times.
func (s *OrderService) CreateOrder(
	ctx context.Context,
	userID int64,
	lines []models.CartLine,
	address models.ShippingAddress,
	method models.PaymentMethod,
) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(lines) == 0 {
		return nil, apperr.Validation("cart", "cart is empty")
	}
	if missing := address.MissingFields(); len(missing) > 0 {
		return nil, apperr.Validation("address", "missing %s", strings.Join(missing, ", "))
	}

	items, totals, err := buildOrderLines(lines)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:          userID,
		Items:           items,
		Subtotal:        totals.Subtotal,
		DiscountTotal:   totals.Discount,
		GSTTotal:        totals.GST,
		CGSTTotal:       totals.CGST,
		GrandTotal:      totals.Grand,
		ShippingAddress: address,
		PaymentMethod:   method,
		PaymentStatus:   models.PaymentStatusPending,
		OrderStatus:     models.OrderStatusPending,
	}

	for attempt := 1; ; attempt++ {
		order.OrderNumber = s.orderNumber()
		err = s.store.CreateOrder(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateOrderNumber) || attempt >= s.numberAttempts {
			util.RecordError(span, err)
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		s.logger.Warn("Order number collision, regenerating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt))
	}

	util.OrdersCreatedTotal.WithLabelValues(string(method)).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("grand_total", order.GrandTotal.StringFixed(2)))

	event := &models.OrderCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        userID,
		GrandTotal:    order.GrandTotal.StringFixed(2),
		PaymentMethod: method,
	}
	pubCtx, cancel := notifyContext(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.eventPublisher.PublishOrderCreated(pubCtx, event); err != nil {
		s.logger.Error("Failed to publish order created event", zap.Error(err))
	}

	return order, nil
}

// buildOrderLines snapshots the cart into order lines with their exclusive
// mode totals
func buildOrderLines(lines []models.CartLine) (models.OrderLines, pricing.Totals, error) {
	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		if l.Product == nil {
			return nil, pricing.Totals{}, apperr.Validation("cart", "product %d is no longer available", l.Item.ProductID)
		}
		priced = append(priced, pricing.Line{
			UnitPrice:   l.Product.Price,
			Quantity:    l.Item.Quantity,
			DiscountPct: l.Product.Discount,
			GSTPct:      l.Product.GST,
			CGSTPct:     l.Product.CGST,
		})
	}

	totals := pricing.Exclusive(priced)
	items := make(models.OrderLines, len(lines))
	for i, l := range lines {
		lt := totals.Lines[i]
		items[i] = models.OrderLine{
			ProductID:   l.Product.ID,
			Name:        l.Product.Title,
			UnitPrice:   l.Product.Price,
			Quantity:    l.Item.Quantity,
			DiscountPct: l.Product.Discount,
			GSTPct:      l.Product.GST,
			CGSTPct:     l.Product.CGST,
			Size:        l.Item.Size,
			Color:       l.Item.Color,
			Subtotal:    lt.Subtotal,
			Discount:    lt.Discount,
			Taxable:     lt.Taxable,
			GST:         lt.GST,
			CGST:        lt.CGST,
			LineTotal:   lt.Total,
		}
	}
	return items, totals, nil
}

// GetOrder returns an order by id
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.store.GetOrderByID(ctx, orderID)
}

// GetUserOrder returns an order owned by userID. Orders of other users are
// reported as not found.
func (s *OrderService) GetUserOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.NotFound("order", orderID)
	}
	return order, nil
}

// ListUserOrders returns the user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// ListOrders returns all orders for the admin view
func (s *OrderService) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	return s.store.ListOrders(ctx, f)
}

// Invoice renders the invoice of an order owned by userID
func (s *OrderService) Invoice(ctx context.Context, userID, orderID int64) (string, error) {
	order, err := s.GetUserOrder(ctx, userID, orderID)
	if err != nil {
		return "", err
	}
	if !order.Settled() {
		return "", apperr.Conflict("order %s is not placed yet", order.OrderNumber)
	}
	site, err := s.settings.SiteIdentity(ctx)
	if err != nil {
		return "", err
	}
	return notify.RenderInvoice(order, site)
}

// UpdateStatus applies an admin status change. The update only succeeds if
// the order is still in the status it was read in. Cancelling a settled
// order returns its stock in the same transaction.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, u models.StatusUpdate) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(u.Status)))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.OrderStatus
	if err := models.CheckTransition(from, u); err != nil {
		return nil, err
	}

	restocked := false
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		ok, err := tx.TransitionStatus(ctx, orderID, from, u)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("order %s changed status concurrently", order.OrderNumber)
		}
		if u.Status == models.OrderStatusCancelled && order.Settled() {
			restocked, err = s.ledger.Restore(ctx, tx, order)
			return err
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(string(from), string(u.Status)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(u.Status)),
		zap.Bool("restocked", restocked))

	updated, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		From:           from,
		To:             updated.OrderStatus,
		TrackingNumber: updated.TrackingNumber,
		CourierName:    updated.CourierName,
		Phone:          updated.ShippingAddress.Phone,
	}
	pubCtx, cancel := notifyContext(ctx, s.notifyTimeout)
	defer cancel()
	if err := s.eventPublisher.PublishOrderStatusChanged(pubCtx, event); err != nil {
		s.logger.Error("Failed to publish status change", zap.Int64("order_id", orderID), zap.Error(err))
	}

	if u.Status == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
		if err := s.emitter.NotifyCancelled(pubCtx, updated, restocked, u.Reason); err != nil {
			s.logger.Error("Failed to send cancellation notice", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	return updated, nil
}

// DeleteOrders purges orders by id and returns how many were removed
func (s *OrderService) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrders")
	defer span.End()

	if len(ids) == 0 {
		return 0, apperr.Validation("ids", "at least one order id is required")
	}
	n, err := s.store.DeleteOrders(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Warn("Orders deleted", zap.Int64s("ids", ids), zap.Int64("deleted", n))
	return n, nil
}
