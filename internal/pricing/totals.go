// Package pricing computes order and cart totals. Two modes exist and they
// disagree on purpose: Exclusive adds per-product GST/CGST on top of the
// discounted amount and is what an order persists; Inclusive treats the
// discounted amount as tax-inclusive, back-calculates the base from the
// global rates and is only used for cart display.
//
// Amounts are accumulated at full precision. Round2 is applied by callers
// at presentation time only.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// inclusiveDivPrecision is the number of decimal places kept when dividing
// out the tax-inclusive base.
const inclusiveDivPrecision = 28

var (
	zero    = decimal.Zero
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Line is the pricing input of one cart or order line. Percentages are whole
// percent values, e.g. 9 for 9%.
type Line struct {
	UnitPrice   decimal.Decimal
	Quantity    int
	DiscountPct decimal.Decimal
	GSTPct      decimal.Decimal
	CGSTPct     decimal.Decimal
}

// LineTotals is the breakdown of one line
type LineTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Taxable  decimal.Decimal
	GST      decimal.Decimal
	CGST     decimal.Decimal
	Total    decimal.Decimal
}

// Totals is the breakdown of a whole cart or order
type Totals struct {
	Lines    []LineTotals
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Taxable  decimal.Decimal
	GST      decimal.Decimal
	CGST     decimal.Decimal
	Grand    decimal.Decimal
}

// Rates are the global GST/CGST percentages from settings
type Rates struct {
	GST  decimal.Decimal
	CGST decimal.Decimal
}

func pct(v decimal.Decimal) decimal.Decimal {
	return v.Div(hundred)
}

func base(l Line) (subtotal, discount, final decimal.Decimal) {
	subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	discount = subtotal.Mul(pct(l.DiscountPct))
	return subtotal, discount, subtotal.Sub(discount)
}

// ExclusiveLine prices a single line in exclusive mode
func ExclusiveLine(l Line) LineTotals {
	subtotal, discount, taxable := base(l)
	gst := taxable.Mul(pct(l.GSTPct))
	cgst := taxable.Mul(pct(l.CGSTPct))
	return LineTotals{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		GST:      gst,
		CGST:     cgst,
		Total:    taxable.Add(gst).Add(cgst),
	}
}

// Exclusive computes checkout totals: tax is added on top of the discounted
// amount using each line's own rates.
func Exclusive(lines []Line) Totals {
	t := Totals{
		Lines:    make([]LineTotals, 0, len(lines)),
		Subtotal: zero,
		Discount: zero,
		Taxable:  zero,
		GST:      zero,
		CGST:     zero,
	}
	for _, l := range lines {
		lt := ExclusiveLine(l)
		t.add(lt)
	}
	t.Grand = t.Taxable.Add(t.GST).Add(t.CGST)
	return t
}

// InclusiveLine prices a single line in inclusive mode using the global
// rates. Line-level GST/CGST percentages are ignored.
func InclusiveLine(l Line, r Rates) LineTotals {
	subtotal, discount, final := base(l)
	combined := r.GST.Add(r.CGST)

	lt := LineTotals{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  final,
		GST:      zero,
		CGST:     zero,
		Total:    final,
	}
	if combined.IsZero() {
		return lt
	}

	divisor := one.Add(pct(combined))
	taxable := final.DivRound(divisor, inclusiveDivPrecision)
	tax := final.Sub(taxable)
	gst := tax.Mul(r.GST).DivRound(combined, inclusiveDivPrecision)

	lt.Taxable = taxable
	lt.GST = gst
	lt.CGST = tax.Sub(gst)
	return lt
}

// Inclusive computes the cart display totals. The grand total equals the
// sum of discounted line amounts; tax is carved out of it.
func Inclusive(lines []Line, r Rates) Totals {
	t := Totals{
		Lines:    make([]LineTotals, 0, len(lines)),
		Subtotal: zero,
		Discount: zero,
		Taxable:  zero,
		GST:      zero,
		CGST:     zero,
	}
	for _, l := range lines {
		t.add(InclusiveLine(l, r))
	}
	t.Grand = t.Taxable.Add(t.GST).Add(t.CGST)
	return t
}

func (t *Totals) add(lt LineTotals) {
	t.Lines = append(t.Lines, lt)
	t.Subtotal = t.Subtotal.Add(lt.Subtotal)
	t.Discount = t.Discount.Add(lt.Discount)
	t.Taxable = t.Taxable.Add(lt.Taxable)
	t.GST = t.GST.Add(lt.GST)
	t.CGST = t.CGST.Add(lt.CGST)
}

// FinalPrice is price*(1-discount/100)
func FinalPrice(price, discountPct decimal.Decimal) decimal.Decimal {
	return price.Mul(one.Sub(pct(discountPct)))
}

// ValidateProduct checks the pricing invariants of a catalog entry
func ValidateProduct(price, discountPct, gstPct, cgstPct decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("price must not be negative")
	}
	if discountPct.IsNegative() || discountPct.GreaterThan(hundred) {
		return fmt.Errorf("discount must be between 0 and 100")
	}
	if gstPct.IsNegative() || cgstPct.IsNegative() {
		return fmt.Errorf("tax rates must not be negative")
	}
	return nil
}

// Round2 rounds to paise for display and persistence of formatted amounts
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts rupees to paise for the payment gateway
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
