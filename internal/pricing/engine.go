package pricing

import "github.com/shopspring/decimal"

// Money is a euro amount. It encodes to JSON as a plain number (6.5, not
// "6.5") and decodes from either form.
type Money struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

func (m Money) Add(o Money) Money { return Money{m.Decimal.Add(o.Decimal)} }
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }
func (m Money) LessThan(o Money) bool { return m.Decimal.LessThan(o.Decimal) }
func (m Money) GreaterThan(o Money) bool { return m.Decimal.GreaterThan(o.Decimal) }
func (m Money) MarshalJSON() ([]byte, error) { return []byte(m.Decimal.String()), nil }

func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Count    int
}

// LineTotal returns unit × qty. Non-positive quantities yield zero.
func LineTotal(unit Money, qty int) Money {
	if qty <= 0 {
		return Zero
	}
	return Money{unit.Mul(decimal.NewFromInt(int64(qty)))}
}

// Compute calculates the cart subtotal and item count.
func Compute(items []Item) Summary {
	subtotal := Zero
	count := 0
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(LineTotal(it.UnitPrice, it.Qty))
		count += it.Qty
	}
	return Summary{Subtotal: subtotal, Count: count}
}

// Sum adds a base amount and any number of deltas.
func Sum(base Money, deltas ...Money) Money {
	total := base
	for _, d := range deltas {
		total = total.Add(d)
	}
	return total
}

// Parse converts a decimal string such as "6.50" into Money.
func Parse(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Zero, err
	}
	return Money{d}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(value string) Money {
	return Money{decimal.RequireFromString(value)}
}

// Format renders an amount with two decimals.
func Format(m Money) string {
	return m.StringFixed(2)
}
