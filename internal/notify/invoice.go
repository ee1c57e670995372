package notify

import (
	"bytes"
	"strings"
	"text/template"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

var invoiceTmpl = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money":   func(d decimal.Decimal) string { return d.StringFixed(2) },
	"upper":   strings.ToUpper,
	"inc":     func(i int) int { return i + 1 },
	"variant": variantLabel,
}).Parse(`{{.Site.Name}}
{{- if .Site.Address}}
{{.Site.Address}}{{end}}
{{- if .Site.GSTIN}}
GSTIN: {{.Site.GSTIN}}{{end}}
{{- if .Site.Phone}}
Phone: {{.Site.Phone}}{{end}}
{{- if .Site.Email}}
Email: {{.Site.Email}}{{end}}

TAX INVOICE
Order: {{.Order.OrderNumber}}
Date: {{.Order.CreatedAt.Format "02 Jan 2006 15:04 MST"}}
Payment: {{upper (print .Order.PaymentMethod)}} ({{.Order.PaymentStatus}})

Ship to:
{{with .Order.ShippingAddress}}{{.FullName}}, {{.Phone}}
{{.Line1}}{{if .Line2}}, {{.Line2}}{{end}}
{{.City}}, {{.State}} {{.PostalCode}}{{end}}

Items:
{{range $i, $l := .Order.Items}}{{inc $i}}. {{$l.Name}}{{variant $l}} x{{$l.Quantity}} @ {{money $l.UnitPrice}}
   Discount {{$l.DiscountPct}}%: -{{money $l.Discount}}  Taxable: {{money $l.Taxable}}
   GST {{$l.GSTPct}}%: {{money $l.GST}}  CGST {{$l.CGSTPct}}%: {{money $l.CGST}}  Total: {{money $l.LineTotal}}
{{end}}
Subtotal: {{money .Order.Subtotal}}
Discount: -{{money .Order.DiscountTotal}}
GST: {{money .Order.GSTTotal}}
CGST: {{money .Order.CGSTTotal}}
Grand total: {{money .Order.GrandTotal}} INR
`))

func variantLabel(l models.OrderLine) string {
	parts := make([]string, 0, 2)
	if l.Size != "" {
		parts = append(parts, l.Size)
	}
	if l.Color != "" {
		parts = append(parts, l.Color)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "/") + ")"
}

// RenderInvoice renders the plain-text invoice for an order. Only the order
// snapshot is used, never the live catalog.
func RenderInvoice(order *models.Order, site models.SiteIdentity) (string, error) {
	var buf bytes.Buffer
	err := invoiceTmpl.Execute(&buf, struct {
		Order *models.Order
		Site  models.SiteIdentity
	}{order, site})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderCancellation renders the short notice sent when an order is cancelled
func RenderCancellation(order *models.Order, site models.SiteIdentity, reason string) string {
	var b strings.Builder
	b.WriteString(site.Name)
	b.WriteString(": your order ")
	b.WriteString(order.OrderNumber)
	b.WriteString(" has been cancelled.")
	if reason != "" {
		b.WriteString(" Reason: ")
		b.WriteString(reason)
		b.WriteString(".")
	}
	if order.PaymentStatus == models.PaymentStatusCompleted {
		b.WriteString(" A refund of INR ")
		b.WriteString(order.GrandTotal.StringFixed(2))
		b.WriteString(" will be initiated.")
	}
	return b.String()
}
