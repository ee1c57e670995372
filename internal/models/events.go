package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderSettled       = "ORDER_SETTLED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeInvoiceIssued      = "INVOICE_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published once the order row is durable
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64         `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        int64         `json:"user_id"`
	GrandTotal    string        `json:"grand_total"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// OrderSettledEvent published after stock was decremented and the cart cleared
type OrderSettledEvent struct {
	BaseEvent
	OrderID          int64         `json:"order_id"`
	OrderNumber      string        `json:"order_number"`
	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
}

// OrderStatusChangedEvent published for every admin transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        int64       `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	CourierName    string      `json:"courier_name,omitempty"`
	Phone          string      `json:"phone"`
}

// OrderCancelledEvent carries the cancellation notice for the buyer
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Phone       string `json:"phone"`
	Restocked   bool   `json:"restocked"`
	Notice      string `json:"notice"`
	Reason      string `json:"reason,omitempty"`
}

// InvoiceIssuedEvent carries the rendered invoice to the notification worker
type InvoiceIssuedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Phone       string `json:"phone"`
	Invoice     string `json:"invoice"`
}
