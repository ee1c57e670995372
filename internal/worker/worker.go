package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageSource is implemented by broker.Consumer
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// MessageSender is implemented by sms.Client
type MessageSender interface {
	Send(ctx context.Context, phone, body string) error
}

// NotificationWorker delivers invoices and order notices to buyers by SMS.
// Delivery failures are logged and counted but never fail the message.
type NotificationWorker struct {
	source       MessageSource
	sender       MessageSender
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, sender MessageSender) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		sender:       sender,
		eventHandler: broker.NewEventHandler(),
		logger:       util.Component("notification-worker"),
	}

	w.eventHandler.OnInvoiceIssued(w.handleInvoiceIssued)
	w.eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChanged)

	return w
}

// Start consumes events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// Stop closes the underlying consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

// HandleMessage dispatches a single event
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *NotificationWorker) handleInvoiceIssued(ctx context.Context, e *models.InvoiceIssuedEvent) error {
	w.deliver(ctx, e.OrderNumber, e.Phone, e.Invoice)
	return nil
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	w.deliver(ctx, e.OrderNumber, e.Phone, e.Notice)
	return nil
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	if e.To != models.OrderStatusShipped {
		return nil
	}
	body := fmt.Sprintf("Your order %s has been shipped.", e.OrderNumber)
	if e.TrackingNumber != "" {
		body += fmt.Sprintf(" Tracking: %s", e.TrackingNumber)
		if e.CourierName != "" {
			body += fmt.Sprintf(" (%s)", e.CourierName)
		}
	}
	w.deliver(ctx, e.OrderNumber, e.Phone, body)
	return nil
}

func (w *NotificationWorker) deliver(ctx context.Context, orderNumber, phone, body string) {
	if phone == "" || body == "" {
		w.logger.Debug("Nothing to deliver", zap.String("order_number", orderNumber))
		return
	}

	ctx, span := util.StartSpan(ctx, "NotificationWorker.deliver")
	defer span.End()

	if err := w.sender.Send(ctx, phone, body); err != nil {
		util.RecordError(span, err)
		util.NotificationFailuresTotal.WithLabelValues("sms").Inc()
		w.logger.Error("Failed to deliver notification",
			zap.String("order_number", orderNumber),
			zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues("sms").Inc()
	w.logger.Info("Notification delivered", zap.String("order_number", orderNumber))
}
