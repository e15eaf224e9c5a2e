package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Price is an exact decimal amount that travels as a bare JSON number.
type Price struct{ decimal.Decimal }

func NewPrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, err
	}
	return Price{d}, nil
}

func PriceFromInt(v int64) Price { return Price{decimal.NewFromInt(v)} }

func (p Price) Add(q Price) Price { return Price{p.Decimal.Add(q.Decimal)} }

func (p Price) Equal(q Price) bool { return p.Decimal.Equal(q.Decimal) }

func (p Price) MarshalJSON() ([]byte, error) { return []byte(p.Decimal.String()), nil }

// Bounds of an accepted price literal. Prices outside them are rejected
// while decoding, before any arithmetic runs on them.
const (
	maxPriceLiteral = 40
	maxPriceDigits  = 18 // digits before the decimal point
	maxPriceScale   = 18 // digits after the decimal point
)

var (
	errPriceNotNumber  = errors.New("price must be a JSON number")
	errPriceOutOfRange = errors.New("price out of range")
)

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == '"' || bytes.Equal(b, []byte("null")) {
		return errPriceNotNumber
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errPriceNotNumber
	}
	if len(n) > maxPriceLiteral {
		return errPriceOutOfRange
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return errPriceNotNumber
	}
	if err := checkPriceRange(d); err != nil {
		return err
	}
	p.Decimal = d
	return nil
}

func checkPriceRange(d decimal.Decimal) error {
	exp := int64(d.Exponent())
	if exp < -maxPriceScale {
		return errPriceOutOfRange
	}
	coef := strings.TrimPrefix(d.Coefficient().String(), "-")
	if coef != "0" && int64(len(coef))+exp > maxPriceDigits {
		return errPriceOutOfRange
	}
	return nil
}

// Product is a snapshot of a catalog entry as carried by the order request.
// Only price is interpreted; the original object is kept verbatim so the
// persisted order and the outbound event carry exactly what the producer sent.
type Product struct {
	Price Price
	raw   json.RawMessage
}

func (p Product) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(struct {
		Price Price `json:"price"`
	}{p.Price})
}

func (p *Product) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		return errors.New("product must be a JSON object")
	}
	raw, ok := fields["price"]
	if !ok {
		return errors.New("product price is missing")
	}
	if err := p.Price.UnmarshalJSON(raw); err != nil {
		return err
	}
	if hasNUL(b) {
		return errNULText
	}
	if p.Price.IsNegative() {
		return errors.New("product price is negative")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	p.raw = buf.Bytes()
	return nil
}

var errNULText = errors.New("text must not contain NUL characters")

// hasNUL reports whether any key or string inside the JSON value b decodes
// to text containing U+0000, which postgres text and jsonb refuse.
func hasNUL(b []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	return containsNUL(v)
}

func containsNUL(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.ContainsRune(t, 0)
	case []any:
		for _, e := range t {
			if containsNUL(e) {
				return true
			}
		}
	case map[string]any:
		for k, e := range t {
			if strings.ContainsRune(k, 0) || containsNUL(e) {
				return true
			}
		}
	}
	return false
}

// OrderRequest adalah payload pesan masuk di queue order.
type OrderRequest struct {
	OrderID  string    `json:"orderId"`
	Username string    `json:"username"`
	Products []Product `json:"products"`
}

// OrderInput is what the pipeline hands to the store: a validated, priced request.
type OrderInput struct {
	OrderRef   string
	User       string
	Products   []Product
	TotalPrice Price
}

// Order is append-only: created once by the pipeline, never mutated.
type Order struct {
	ID         string    `json:"id"`
	OrderRef   string    `json:"orderRef"` // orderId dari producer, unique
	User       string    `json:"user"`
	Products   []Product `json:"products"`
	TotalPrice Price     `json:"totalPrice"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PricedOrderEvent is the outbound payload on the product queue.
type PricedOrderEvent struct {
	OrderID    string    `json:"orderId"`
	User       string    `json:"user"`
	Products   []Product `json:"products"`
	TotalPrice Price     `json:"totalPrice"`
}

func EventFromInput(in OrderInput) PricedOrderEvent {
	return PricedOrderEvent{
		OrderID:    in.OrderRef,
		User:       in.User,
		Products:   in.Products,
		TotalPrice: in.TotalPrice,
	}
}
