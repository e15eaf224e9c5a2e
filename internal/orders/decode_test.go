package orders

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest_PricesOrder(t *testing.T) {
	body := []byte(`{"orderId":"o1","username":"alice","products":[{"price":10},{"price":5}]}`)

	req, err := DecodeRequest(body, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "o1", req.OrderID)
	assert.Equal(t, "alice", req.Username)
	require.Len(t, req.Products, 2)

	in := req.Price()
	assert.Equal(t, "o1", in.OrderRef)
	assert.Equal(t, "alice", in.User)
	assert.True(t, in.TotalPrice.Equal(PriceFromInt(15)), "got %s", in.TotalPrice)
}

func TestDecodeRequest_EmptyProducts(t *testing.T) {
	body := []byte(`{"orderId":"o2","username":"bob","products":[]}`)

	req, err := DecodeRequest(body, DecodeOptions{})
	require.NoError(t, err)
	assert.NotNil(t, req.Products)
	assert.Empty(t, req.Products)
	assert.True(t, req.Price().TotalPrice.IsZero())

	_, err = DecodeRequest(body, DecodeOptions{RejectEmpty: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyOrder)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequest_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"orderId":`,
		"array body":         `[]`,
		"null body":          `null`,
		"missing orderId":    `{"username":"u","products":[]}`,
		"blank username":     `{"orderId":"o","username":" ","products":[]}`,
		"missing products":   `{"orderId":"o3","username":"carol"}`,
		"null products":      `{"orderId":"o3","username":"carol","products":null}`,
		"products object":    `{"orderId":"o3","username":"carol","products":{"price":1}}`,
		"quoted price":       `{"orderId":"o","username":"u","products":[{"price":"10"}]}`,
		"null price":         `{"orderId":"o","username":"u","products":[{"price":null}]}`,
		"missing price":      `{"orderId":"o","username":"u","products":[{"name":"pen"}]}`,
		"negative price":     `{"orderId":"o","username":"u","products":[{"price":-1}]}`,
		"product not object": `{"orderId":"o","username":"u","products":[5]}`,
		"huge exponent":      `{"orderId":"o1","username":"alice","products":[{"price":1e30000000}]}`,
		"beyond numeric":     `{"orderId":"o1","username":"alice","products":[{"price":1e200000}]}`,
		"tiny exponent":      `{"orderId":"o1","username":"alice","products":[{"price":1e-30000000}]}`,
		"too many digits":    `{"orderId":"o","username":"u","products":[{"price":1234567890123456789}]}`,
		"long literal":       `{"orderId":"o","username":"u","products":[{"price":1.00000000000000000000000000000000000000001}]}`,
		"NUL username":       `{"orderId":"o1","username":"al\u0000ice","products":[]}`,
		"NUL orderId":        `{"orderId":"o\u00001","username":"alice","products":[]}`,
		"NUL product field":  `{"orderId":"o1","username":"alice","products":[{"price":1,"name":"a\u0000"}]}`,
		"NUL product key":    `{"orderId":"o1","username":"alice","products":[{"price":1,"n\u0000":"a"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(body), DecodeOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)

			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestDecodeRequest_RejectsInvalidUTF8(t *testing.T) {
	body := []byte("{\"orderId\":\"o1\",\"username\":\"alice\",\"products\":[{\"price\":1,\"name\":\"\xff\xfe\"}]}")

	_, err := DecodeRequest(body, DecodeOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRequest_RejectsOversizedBody(t *testing.T) {
	body := []byte(`{"orderId":"o1","username":"alice","products":[{"price":1,"note":"` + strings.Repeat("x", 200) + `"}]}`)

	_, err := DecodeRequest(body, DecodeOptions{MaxBytes: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeRequest(body, DecodeOptions{})
	require.NoError(t, err)
}

func TestPrice_Bounds(t *testing.T) {
	ok := []string{`0`, `0.000000000000000001`, `999999999999999999`, `123456789012345678.5`, `1e17`, `2.50`}
	for _, lit := range ok {
		var p Price
		assert.NoError(t, json.Unmarshal([]byte(lit), &p), lit)
	}
	bad := []string{`1e18`, `0.0000000000000000001`, `1e30000000`, `1e-30000000`}
	for _, lit := range bad {
		var p Price
		assert.ErrorIs(t, json.Unmarshal([]byte(lit), &p), errPriceOutOfRange, lit)
	}
}

func TestDecodeError_Field(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"orderId":"o3","username":"carol"}`), DecodeOptions{})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "products", de.Field)
	assert.Contains(t, err.Error(), "products")
}

func TestTotal_IsExact(t *testing.T) {
	body := []byte(`{"orderId":"o4","username":"dan","products":[{"price":0.1},{"price":0.2}]}`)
	req, err := DecodeRequest(body, DecodeOptions{})
	require.NoError(t, err)

	want, err := NewPrice("0.3")
	require.NoError(t, err)
	assert.True(t, req.Price().TotalPrice.Equal(want), "got %s", req.Price().TotalPrice)
}

func TestProduct_KeepsSnapshot(t *testing.T) {
	body := []byte(`{"orderId":"o5","username":"erin","products":[{"name": "pen", "price": 1.50, "tags": ["a"]}]}`)
	req, err := DecodeRequest(body, DecodeOptions{})
	require.NoError(t, err)

	out, err := json.Marshal(EventFromInput(req.Price()))
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"orderId":"o5","user":"erin","products":[{"name":"pen","price":1.50,"tags":["a"]}],"totalPrice":1.5}`,
		string(out))
}

func TestPrice_JSON(t *testing.T) {
	var p Price
	require.NoError(t, json.Unmarshal([]byte(`12.75`), &p))
	assert.Equal(t, "12.75", p.String())

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `12.75`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`"12.75"`), &p))
	assert.Error(t, json.Unmarshal([]byte(`true`), &p))
}
