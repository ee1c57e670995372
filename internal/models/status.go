package models

import (
	"strings"

	"storefront/internal/apperr"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// adminTransitions lists the moves an administrator may make. confirmed is
// missing as a target on purpose: only a verified payment enters it.
var adminTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// ParseOrderStatus normalises s and rejects unknown values
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, nil
	}
	return "", apperr.Validation("status", "unknown order status %q", s)
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an administrator may move an order from s
// to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range adminTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the admin targets reachable from s
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	out := make([]OrderStatus, len(adminTransitions[s]))
	copy(out, adminTransitions[s])
	return out
}

// StatusUpdate is an admin request to move an order along
type StatusUpdate struct {
	Status         OrderStatus `json:"status"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	CourierName    string      `json:"courier_name,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}

// CheckTransition validates moving from current to u.Status. An illegal move
// is a ConflictError; a shipment without tracking details is a
// ValidationError.
func CheckTransition(current OrderStatus, u StatusUpdate) error {
	if !current.CanTransitionTo(u.Status) {
		return apperr.Conflict("cannot move order from %s to %s", current, u.Status)
	}
	if u.Status == OrderStatusShipped {
		if strings.TrimSpace(u.TrackingNumber) == "" {
			return apperr.Validation("tracking_number", "required when shipping")
		}
		if strings.TrimSpace(u.CourierName) == "" {
			return apperr.Validation("courier_name", "required when shipping")
		}
	}
	return nil
}
