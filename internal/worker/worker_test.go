package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type sentMessage struct {
	phone string
	body  string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, phone, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{phone: phone, body: body})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// chanSource feeds queued messages to the handler and blocks until ctx ends
type chanSource struct {
	msgs   chan kafka.Message
	closed bool
}

func (s *chanSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.msgs:
			_ = handler(ctx, msg)
		}
	}
}

func (s *chanSource) Close() error {
	s.closed = true
	return nil
}

func message(t *testing.T, eventType string, event any) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(eventType), Value: value}
}

func invoiceEvent() *models.InvoiceIssuedEvent {
	return &models.InvoiceIssuedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeInvoiceIssued),
		OrderID:     7,
		OrderNumber: "ORD-7",
		Phone:       "+8801712345678",
		Invoice:     "INVOICE ORD-7",
	}
}

func TestWorkerDeliversInvoice(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &fakeSender{}
	source := &chanSource{msgs: make(chan kafka.Message, 1)}
	w := NewNotificationWorker(source, sender)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	source.msgs <- message(t, models.EventTypeInvoiceIssued, invoiceEvent())

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, w.Stop())
	assert.True(t, source.closed)

	got := sender.messages()[0]
	assert.Equal(t, "+8801712345678", got.phone)
	assert.Equal(t, "INVOICE ORD-7", got.body)
}

func TestWorkerSwallowsDeliveryFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("provider down")}
	w := NewNotificationWorker(&chanSource{}, sender)

	err := w.HandleMessage(context.Background(), message(t, models.EventTypeInvoiceIssued, invoiceEvent()))
	assert.NoError(t, err)
	assert.Empty(t, sender.messages())
}

func TestWorkerCancellationNotice(t *testing.T) {
	sender := &fakeSender{}
	w := NewNotificationWorker(&chanSource{}, sender)

	event := &models.OrderCancelledEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:     9,
		OrderNumber: "ORD-9",
		Phone:       "+8801711111111",
		Notice:      "Order ORD-9 was cancelled",
	}
	require.NoError(t, w.HandleMessage(context.Background(), message(t, models.EventTypeOrderCancelled, event)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Order ORD-9 was cancelled", msgs[0].body)
}

func TestWorkerShippedNotice(t *testing.T) {
	sender := &fakeSender{}
	w := NewNotificationWorker(&chanSource{}, sender)

	shipped := &models.OrderStatusChangedEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:        3,
		OrderNumber:    "ORD-3",
		From:           models.OrderStatusProcessing,
		To:             models.OrderStatusShipped,
		TrackingNumber: "TRK-1",
		CourierName:    "Pathao",
		Phone:          "+8801722222222",
	}
	processing := *shipped
	processing.From = models.OrderStatusConfirmed
	processing.To = models.OrderStatusProcessing

	ctx := context.Background()
	require.NoError(t, w.HandleMessage(ctx, message(t, models.EventTypeOrderStatusChanged, &processing)))
	require.NoError(t, w.HandleMessage(ctx, message(t, models.EventTypeOrderStatusChanged, shipped)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Your order ORD-3 has been shipped. Tracking: TRK-1 (Pathao)", msgs[0].body)
}

func TestWorkerSkipsEventsWithoutPhone(t *testing.T) {
	sender := &fakeSender{}
	w := NewNotificationWorker(&chanSource{}, sender)

	event := invoiceEvent()
	event.Phone = ""
	require.NoError(t, w.HandleMessage(context.Background(), message(t, models.EventTypeInvoiceIssued, event)))
	assert.Empty(t, sender.messages())
}
