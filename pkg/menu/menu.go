// Package menu defines menu items as they arrive from the upstream catalog and
// normalises their identifiers and prices.
package menu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pmsdesk/pkg/money"
)

// ItemID identifies a menu item. Numeric identifiers are stored in canonical
// decimal form so that 1, "1" and "01" compare equal.
type ItemID string

// ParseItemID canonicalises an identifier given as a number or a string.
func ParseItemID(v any) ItemID {
	switch x := v.(type) {
	case ItemID:
		return canonical(string(x))
	case string:
		return canonical(x)
	case json.Number:
		return canonical(x.String())
	case int:
		return ItemID(decimal.NewFromInt(int64(x)).String())
	case int64:
		return ItemID(decimal.NewFromInt(x).String())
	case float64:
		if d, err := money.Parse(x); err == nil {
			return ItemID(d.String())
		}
		return ItemID(strconv.FormatFloat(x, 'g', -1, 64))
	default:
		return canonical(fmt.Sprint(v))
	}
}

// canonical keeps identifiers outside the money.InRange bounds as opaque
// strings.
func canonical(s string) ItemID {
	s = strings.TrimSpace(s)
	if d, err := money.Parse(s); err == nil {
		return ItemID(d.String())
	}
	return ItemID(s)
}

// Numeric reports whether the identifier is a number.
func (id ItemID) Numeric() bool {
	_, err := money.Parse(string(id))
	return err == nil
}

func (id ItemID) String() string { return string(id) }

// MarshalJSON writes numeric identifiers as JSON numbers.
func (id ItemID) MarshalJSON() ([]byte, error) {
	if id.Numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a JSON number or string.
func (id *ItemID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = canonical(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("menu item id: %w", err)
	}
	*id = canonical(n.String())
	return nil
}

// Item is a menu entry offered for ordering.
type Item struct {
	ID          ItemID          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Description string          `json:"description,omitempty"`
}

type rawItem struct {
	ID          ItemID          `json:"id"`
	Name        string          `json:"name"`
	Price       json.RawMessage `json:"price"`
	ImageURL    string          `json:"image_url"`
	Description string          `json:"description"`
}

// UnmarshalJSON coerces the price to a number. A malformed price decodes as
// zero rather than failing the whole item.
func (i *Item) UnmarshalJSON(b []byte) error {
	var r rawItem
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	*i = Item{
		ID:          r.ID,
		Name:        r.Name,
		Price:       money.Price(r.Price),
		ImageURL:    r.ImageURL,
		Description: r.Description,
	}
	return nil
}

// Normalize returns the item with a canonical id and a non-negative price.
func (i Item) Normalize() Item {
	i.ID = canonical(string(i.ID))
	if i.Price.IsNegative() || !money.InRange(i.Price) {
		i.Price = decimal.Zero
	}
	return i
}
