// Package money holds the price coercion and total arithmetic shared by the
// cart and order packages.
package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotNumeric indicates a value that cannot be read as a decimal amount.
var ErrNotNumeric = errors.New("value is not numeric")

// Accepted values have at most maxDigits significant digits and an exponent
// within ±maxExponent. Anything larger is rejected before it is rendered.
const (
	maxExponent = 32
	maxDigits   = 40
	maxInputLen = 2 * (maxDigits + maxExponent)
)

// InRange reports whether d is within the accepted magnitude and precision.
func InRange(d decimal.Decimal) bool {
	e := d.Exponent()
	return e >= -maxExponent && e <= maxExponent && d.NumDigits() <= maxDigits
}

// Parse reads an amount supplied either as a number or as a numeric string.
// Values outside InRange fail with ErrNotNumeric.
func Parse(v any) (decimal.Decimal, error) {
	d, err := parse(v)
	if err != nil {
		return decimal.Zero, err
	}
	if !InRange(d) {
		return decimal.Zero, fmt.Errorf("%w: out of range", ErrNotNumeric)
	}
	return d, nil
}

func parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return parseString(x.String())
	case string:
		return parseString(x)
	case nil:
		return decimal.Zero, ErrNotNumeric
	default:
		return decimal.Zero, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

func parseString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxInputLen {
		return decimal.Zero, ErrNotNumeric
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}
	return d, nil
}

// ParseJSON reads an amount from a raw JSON number or JSON string.
func ParseJSON(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, ErrNotNumeric
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrNotNumeric, err)
		}
		return Parse(s)
	}
	return Parse(string(raw))
}

// Price coerces a unit price. Malformed and negative inputs become zero.
func Price(raw json.RawMessage) decimal.Decimal {
	d, err := ParseJSON(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Line returns unitPrice * quantity.
func Line(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Summary is a taxed total.
type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Summarize applies rate to subtotal. Tax is rounded half away from zero to
// two decimal places.
func Summarize(subtotal, rate decimal.Decimal) Summary {
	tax := subtotal.Mul(rate).Round(2)
	return Summary{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}
