// Package shared holds the money arithmetic used by the sales workflows.
// All intermediate computation runs on shopspring decimals so prorated
// discount and tax figures reproduce exactly across partial returns.
package shared

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DiscountType selects how a line discount applies to the unit price.
type DiscountType string

const (
	// DiscountFixed subtracts an absolute amount from the unit price.
	DiscountFixed DiscountType = "FIXED"
	// DiscountPercent applies a percentage to the unit price.
	DiscountPercent DiscountType = "PERCENT"
)

// ErrZeroInvoiceSubtotal indicates an order with no item value to prorate against.
var ErrZeroInvoiceSubtotal = errors.New("sales: invoice subtotal must be positive")

// LineNet returns the per-unit price after the line discount.
func LineNet(price, discount float64, discountType DiscountType) float64 {
	p := decimal.NewFromFloat(price)
	d := decimal.NewFromFloat(discount)
	var net decimal.Decimal
	switch discountType {
	case DiscountPercent:
		net = p.Mul(decimal.NewFromInt(100).Sub(d)).Div(decimal.NewFromInt(100))
	default:
		net = p.Sub(d)
	}
	f, _ := net.Float64()
	return f
}

// ReturnLine is one returned item for subtotal purposes.
type ReturnLine struct {
	Price        float64
	Discount     float64
	DiscountType DiscountType
	Quantity     float64
}

// ItemsSubtotal sums the discounted line values of a return request.
func ItemsSubtotal(lines []ReturnLine) float64 {
	total := decimal.Zero
	for _, line := range lines {
		net := decimal.NewFromFloat(LineNet(line.Price, line.Discount, line.DiscountType))
		total = total.Add(net.Mul(decimal.NewFromFloat(line.Quantity)))
	}
	f, _ := total.Float64()
	return f
}

// ProrationInput carries everything needed to apportion an order-level
// discount and tax onto one partial return.
type ProrationInput struct {
	// ItemsSubtotal is the discounted value of the lines being returned.
	ItemsSubtotal float64
	// InvoiceSubtotal is the discounted value of all order items.
	InvoiceSubtotal float64
	// OrderDiscount is the order-level discount amount.
	OrderDiscount float64
	// OrderTax is the order's original tax amount; the cap across returns.
	OrderTax float64
	// TaxRate is the order's tax percentage.
	TaxRate float64
	// PriorDiscount and PriorTax are sums over every earlier return
	// against the same order.
	PriorDiscount float64
	PriorTax      float64
}

// Proration is the capped apportionment result.
type Proration struct {
	Ratio float64
	// RawDiscount and RawTax are the uncapped prorated figures.
	RawDiscount float64
	RawTax      float64
	// Discount and Tax are capped so cumulative returns never exceed the
	// order's original discount and tax.
	Discount float64
	Tax      float64
	// Taxable is the return subtotal net of the raw prorated discount.
	Taxable float64
	// Total is what the customer is owed for this return. Any discount
	// clipped by the cap is added back: a smaller granted discount means
	// a larger amount owed.
	Total float64
}

// Prorate apportions the order discount and tax by value ratio and caps the
// result against the headroom left by prior returns.
func Prorate(in ProrationInput) (Proration, error) {
	invoice := decimal.NewFromFloat(in.InvoiceSubtotal)
	if !invoice.IsPositive() {
		return Proration{}, ErrZeroInvoiceSubtotal
	}
	items := decimal.NewFromFloat(in.ItemsSubtotal)
	ratio := items.Div(invoice)

	rawDiscount := decimal.NewFromFloat(in.OrderDiscount).Mul(ratio)
	taxable := items.Sub(rawDiscount)
	rawTax := taxable.Mul(decimal.NewFromFloat(in.TaxRate)).Div(decimal.NewFromInt(100))

	discountHeadroom := decimal.NewFromFloat(in.OrderDiscount).Sub(decimal.NewFromFloat(in.PriorDiscount))
	if discountHeadroom.IsNegative() {
		discountHeadroom = decimal.Zero
	}
	taxHeadroom := decimal.NewFromFloat(in.OrderTax).Sub(decimal.NewFromFloat(in.PriorTax))
	if taxHeadroom.IsNegative() {
		taxHeadroom = decimal.Zero
	}

	discount := decimal.Min(rawDiscount, discountHeadroom)
	tax := decimal.Min(rawTax, taxHeadroom)

	total := taxable.Add(rawDiscount.Sub(discount)).Add(tax)

	return Proration{
		Ratio:       toFloat(ratio),
		RawDiscount: toFloat(rawDiscount),
		RawTax:      toFloat(rawTax),
		Discount:    toFloat(discount),
		Tax:         toFloat(tax),
		Taxable:     toFloat(taxable),
		Total:       toFloat(total),
	}, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
