package service

import (
	"context"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/redisclient"
)

// EventPublisher is implemented by broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderSettled(ctx context.Context, event *models.OrderSettledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// InvoiceEmitter is implemented by notify.Emitter
type InvoiceEmitter interface {
	IssueInvoice(ctx context.Context, order *models.Order) error
	NotifyCancelled(ctx context.Context, order *models.Order, restocked bool, reason string) error
}

// PaymentGateway is implemented by gateway.Client
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gateway.Intent, error)
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool
	KeyID() string
}

// IdempotencyStore is implemented by redisclient.Client
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

// Locker is implemented by redisclient.Client
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// OTPStore is implemented by redisclient.Client
type OTPStore interface {
	ThrottleOTP(ctx context.Context, phone string, window time.Duration) (bool, error)
	SaveOTP(ctx context.Context, phone, code string, ttl time.Duration) error
	ConsumeOTP(ctx context.Context, phone, code string) (redisclient.OTPResult, error)
}

// MessageSender is implemented by sms.Client
type MessageSender interface {
	Send(ctx context.Context, phone, body string) error
}

// TokenIssuer is implemented by auth.Issuer
type TokenIssuer interface {
	Issue(userID int64, role, phone string) (string, time.Time, error)
}
