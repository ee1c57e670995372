package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders written",
	}, []string{"payment_method"})

	OrdersSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_settled_total",
		Help: "Total number of orders whose stock was decremented",
	}, []string{"payment_method"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Admin order status transitions",
	}, []string{"from", "to"})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_conflicts_total",
		Help: "Conditional stock decrements that matched no row",
	})

	StockRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_total",
		Help: "Orders whose stock was returned on cancellation",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of the settlement transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentVerifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_verified_total",
		Help: "Payment callbacks whose signature verified",
	})

	SignatureFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_signature_failures_total",
		Help: "Payment callbacks rejected for a bad signature",
	})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_errors_total",
		Help: "Failed payment gateway calls",
	}, []string{"op", "reason"})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Notifications handed to a channel",
	}, []string{"channel"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notifications that could not be delivered",
	}, []string{"channel"})

	OTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_requests_total",
		Help: "OTP send and verify attempts",
	}, []string{"op", "result"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the per-IP limiter",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
