package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformed   = errors.New("malformed order request")
	ErrEmptyOrder  = errors.New("order has no products")
	ErrNotFound    = errors.New("order not found")
	ErrTooLarge    = errors.New("order request too large")
	errMissingData = errors.New("missing required field")
	errInvalidText = errors.New("body must be valid UTF-8")
)

// DefaultMaxRequestBytes keeps the outbound event below the broker's default
// message size limit.
const DefaultMaxRequestBytes = 512 << 10

// DecodeError is a permanent, per-message failure: redelivering the same bytes
// can never succeed.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode order request: %v", e.Err)
	}
	return fmt.Sprintf("decode order request: %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// DecodeOptions holds the policy knobs of request validation.
type DecodeOptions struct {
	// RejectEmpty turns an empty products list into a decode error. The
	// default accepts it and prices the order at zero.
	RejectEmpty bool
	// MaxBytes limits the body size; 0 means DefaultMaxRequestBytes.
	MaxBytes int
}

// DecodeRequest parses and validates an inbound order request body.
func DecodeRequest(body []byte, opts DecodeOptions) (OrderRequest, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	if len(body) > maxBytes {
		return OrderRequest{}, &DecodeError{Err: ErrTooLarge}
	}
	if !utf8.Valid(body) {
		return OrderRequest{}, &DecodeError{Err: errInvalidText}
	}

	var wire struct {
		OrderID  *string         `json:"orderId"`
		Username *string         `json:"username"`
		Products json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return OrderRequest{}, &DecodeError{Err: err}
	}
	if wire.OrderID == nil || strings.TrimSpace(*wire.OrderID) == "" {
		return OrderRequest{}, &DecodeError{Field: "orderId", Err: errMissingData}
	}
	if wire.Username == nil || strings.TrimSpace(*wire.Username) == "" {
		return OrderRequest{}, &DecodeError{Field: "username", Err: errMissingData}
	}
	if strings.ContainsRune(*wire.OrderID, 0) {
		return OrderRequest{}, &DecodeError{Field: "orderId", Err: errNULText}
	}
	if strings.ContainsRune(*wire.Username, 0) {
		return OrderRequest{}, &DecodeError{Field: "username", Err: errNULText}
	}
	if len(wire.Products) == 0 || string(wire.Products) == "null" {
		return OrderRequest{}, &DecodeError{Field: "products", Err: errMissingData}
	}

	var products []Product
	if err := json.Unmarshal(wire.Products, &products); err != nil {
		return OrderRequest{}, &DecodeError{Field: "products", Err: err}
	}
	if products == nil {
		products = []Product{}
	}
	if len(products) == 0 && opts.RejectEmpty {
		return OrderRequest{}, &DecodeError{Field: "products", Err: ErrEmptyOrder}
	}

	return OrderRequest{
		OrderID:  *wire.OrderID,
		Username: *wire.Username,
		Products: products,
	}, nil
}

// Total sums product prices exactly. An empty list totals zero.
func Total(products []Product) Price {
	total := Price{}
	for _, p := range products {
		total = total.Add(p.Price)
	}
	return total
}

// Price turns a decoded request into the input of the persistence step.
func (r OrderRequest) Price() OrderInput {
	return OrderInput{
		OrderRef:   r.OrderID,
		User:       r.Username,
		Products:   r.Products,
		TotalPrice: Total(r.Products),
	}
}
