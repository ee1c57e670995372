// Package notify renders invoices and cancellation notices and hands them to
// the event bus. Delivery to the buyer happens in the notification worker.
package notify

import (
	"context"
	"fmt"

	"storefront/internal/apperr"
	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const channelEventBus = "event_bus"

// Publisher is the subset of broker.EventPublisher the emitter needs
type Publisher interface {
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// SiteSource supplies the identity printed on invoices
type SiteSource interface {
	SiteIdentity(ctx context.Context) (models.SiteIdentity, error)
}

type Emitter struct {
	publisher Publisher
	site      SiteSource
	logger    *zap.Logger
}

func NewEmitter(publisher Publisher, site SiteSource) *Emitter {
	return &Emitter{
		publisher: publisher,
		site:      site,
		logger:    util.Component("notify"),
	}
}

func (e *Emitter) siteIdentity(ctx context.Context) models.SiteIdentity {
	site, err := e.site.SiteIdentity(ctx)
	if err != nil {
		e.logger.Warn("Falling back to default site identity", zap.Error(err))
		return models.SiteIdentity{Name: "Storefront"}
	}
	return site
}

// IssueInvoice renders the order's invoice and publishes it. Errors are
// returned as NotificationError for the caller to log; they must never undo
// a settlement.
func (e *Emitter) IssueInvoice(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartSpan(ctx, "Emitter.IssueInvoice")
	defer span.End()

	invoice, err := RenderInvoice(order, e.siteIdentity(ctx))
	if err != nil {
		return e.fail(fmt.Errorf("render invoice: %w", err))
	}

	event := &models.InvoiceIssuedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeInvoiceIssued),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Phone:       order.ShippingAddress.Phone,
		Invoice:     invoice,
	}
	if err := e.publisher.PublishInvoiceIssued(ctx, event); err != nil {
		return e.fail(err)
	}

	util.NotificationsSentTotal.WithLabelValues(channelEventBus).Inc()
	return nil
}

// NotifyCancelled publishes the cancellation notice for an order
func (e *Emitter) NotifyCancelled(ctx context.Context, order *models.Order, restocked bool, reason string) error {
	ctx, span := util.StartSpan(ctx, "Emitter.NotifyCancelled")
	defer span.End()

	event := &models.OrderCancelledEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Phone:       order.ShippingAddress.Phone,
		Restocked:   restocked,
		Notice:      RenderCancellation(order, e.siteIdentity(ctx), reason),
		Reason:      reason,
	}
	if err := e.publisher.PublishOrderCancelled(ctx, event); err != nil {
		return e.fail(err)
	}

	util.NotificationsSentTotal.WithLabelValues(channelEventBus).Inc()
	return nil
}

func (e *Emitter) fail(err error) error {
	util.NotificationFailuresTotal.WithLabelValues(channelEventBus).Inc()
	return &apperr.NotificationError{Channel: channelEventBus, Err: err}
}
