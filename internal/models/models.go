package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// User is the identity bound to a verified phone number
type User struct {
	ID        int64     `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Product is a catalog entry. Price is in INR; Discount, GST and CGST are
// percentages.
type Product struct {
	ID         int64           `db:"id" json:"id"`
	Title      string          `db:"title" json:"title"`
	Brand      string          `db:"brand" json:"brand"`
	CategoryID *int64          `db:"category_id" json:"category_id,omitempty"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Discount   decimal.Decimal `db:"discount" json:"discount"`
	GST        decimal.Decimal `db:"gst" json:"gst"`
	CGST       decimal.Decimal `db:"cgst" json:"cgst"`
	Stock      int             `db:"stock" json:"stock"`
	Sizes      pq.StringArray  `db:"sizes" json:"sizes"`
	Colors     pq.StringArray  `db:"colors" json:"colors"`
	Images     pq.StringArray  `db:"images" json:"images"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	IsFeatured bool            `db:"is_featured" json:"is_featured"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`

	Variants []VariantStock `db:"-" json:"variants,omitempty"`
}

// VariantStock is inventory tracked per (size, color) combination
type VariantStock struct {
	ProductID int64  `db:"product_id" json:"product_id"`
	Size      string `db:"size" json:"size"`
	Color     string `db:"color" json:"color"`
	Stock     int    `db:"stock" json:"stock"`
}

var hundred = decimal.NewFromInt(100)

// FinalPrice is the unit price after the product discount
func (p *Product) FinalPrice() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(1).Sub(p.Discount.Div(hundred)))
}

func (p *Product) RequiresSize() bool  { return len(p.Sizes) > 0 }
func (p *Product) RequiresColor() bool { return len(p.Colors) > 0 }
func (p *Product) HasVariants() bool   { return len(p.Variants) > 0 }

// StockFor resolves the stock applicable to a cart line. Variant stock is
// used only when the product tracks variants and both size and color are
// given; an unknown combination resolves to zero.
func (p *Product) StockFor(size, color string) int {
	if p.HasVariants() && size != "" && color != "" {
		for _, v := range p.Variants {
			if v.Size == size && v.Color == color {
				return v.Stock
			}
		}
		return 0
	}
	return p.Stock
}

// CartItem is a user-scoped line item. Quantity is checked against stock at
// checkout, not on insert.
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	Size      string    `db:"size" json:"size,omitempty"`
	Color     string    `db:"color" json:"color,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine joins a cart item with its current product. Product is nil when
// the product no longer exists.
type CartLine struct {
	Item    CartItem `json:"item"`
	Product *Product `json:"product,omitempty"`
}

// Address is a saved user address
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	FullName   string    `db:"full_name" json:"full_name"`
	Phone      string    `db:"phone" json:"phone"`
	Line1      string    `db:"line1" json:"line1"`
	Line2      string    `db:"line2" json:"line2"`
	City       string    `db:"city" json:"city"`
	State      string    `db:"state" json:"state"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Snapshot copies the address into the form stored on an order
func (a *Address) Snapshot() ShippingAddress {
	return ShippingAddress{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// ShippingAddress is the address snapshot stored as JSON on the order
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

// MissingFields lists the required fields that are blank
func (a ShippingAddress) MissingFields() []string {
	var missing []string
	required := []struct {
		name, value string
	}{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (a ShippingAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *ShippingAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// OrderLine is the price snapshot of one purchased item. ProductID is kept
// for inventory compensation only; prices are never re-read from the
// catalog.
type OrderLine struct {
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	GSTPct      decimal.Decimal `json:"gst_pct"`
	CGSTPct     decimal.Decimal `json:"cgst_pct"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount"`
	Taxable     decimal.Decimal `json:"taxable"`
	GST         decimal.Decimal `json:"gst"`
	CGST        decimal.Decimal `json:"cgst"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderLines []OrderLine

func (l OrderLines) Value() (driver.Value, error) {
	if l == nil {
		l = OrderLines{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *OrderLines) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}

// Order is the financial record of a purchase. Totals are computed once at
// checkout and never recomputed.
type Order struct {
	ID               int64           `db:"id" json:"id"`
	OrderNumber      string          `db:"order_number" json:"order_number"`
	UserID           int64           `db:"user_id" json:"user_id"`
	Items            OrderLines      `db:"items" json:"items"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountTotal    decimal.Decimal `db:"discount_total" json:"discount_total"`
	GSTTotal         decimal.Decimal `db:"gst_total" json:"gst_total"`
	CGSTTotal        decimal.Decimal `db:"cgst_total" json:"cgst_total"`
	GrandTotal       decimal.Decimal `db:"grand_total" json:"grand_total"`
	ShippingAddress  ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod    PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	OrderStatus      OrderStatus     `db:"order_status" json:"order_status"`
	GatewayOrderID   string          `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID string          `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	TrackingNumber   string          `db:"tracking_number" json:"tracking_number,omitempty"`
	CourierName      string          `db:"courier_name" json:"courier_name,omitempty"`
	SettledAt        *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
	StockRestored    bool            `db:"stock_restored" json:"stock_restored"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Settled reports whether stock has been decremented for this order
func (o *Order) Settled() bool { return o.SettledAt != nil }

type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Setting is one entry of the global key/value settings table
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Well-known settings keys
const (
	SettingGSTRate     = "gst_rate"
	SettingCGSTRate    = "cgst_rate"
	SettingSiteName    = "site_name"
	SettingSiteEmail   = "site_email"
	SettingSitePhone   = "site_phone"
	SettingSiteAddress = "site_address"
	SettingGSTIN       = "gstin"
)

// SiteIdentity is printed on invoices
type SiteIdentity struct {
	Name    string
	Email   string
	Phone   string
	Address string
	GSTIN   string
}

// Review is a moderated product review
type Review struct {
	ID        int64        `db:"id" json:"id"`
	ProductID int64        `db:"product_id" json:"product_id"`
	UserID    int64        `db:"user_id" json:"user_id"`
	Rating    int          `db:"rating" json:"rating"`
	Comment   string       `db:"comment" json:"comment"`
	Status    ReviewStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)
