package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	byID  map[string]orders.Order
	byRef map[string]orders.Order
	err   error
}

func (f *fakeReader) GetOrder(_ context.Context, id string) (orders.Order, error) {
	if f.err != nil {
		return orders.Order{}, f.err
	}
	o, ok := f.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (f *fakeReader) GetOrderByRef(_ context.Context, ref string) (orders.Order, error) {
	if f.err != nil {
		return orders.Order{}, f.err
	}
	o, ok := f.byRef[ref]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func TestHealthz(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	healthy := true
	r := NewRouter(zerolog.Nop())
	RegisterReady(r, map[string]Check{
		"store": func(context.Context) error { return nil },
		"broker": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("broker not ready: reconnecting")
		},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"store":"ok","broker":"ok"}`, rec.Body.String())

	healthy = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"store":"ok","broker":"broker not ready: reconnecting"}`, rec.Body.String())
}

func TestOrdersHandler(t *testing.T) {
	price, err := orders.NewPrice("15")
	require.NoError(t, err)
	o := orders.Order{
		ID:         "3f0c",
		OrderRef:   "o1",
		User:       "alice",
		Products:   []orders.Product{},
		TotalPrice: price,
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	store := &fakeReader{
		byID:  map[string]orders.Order{o.ID: o},
		byRef: map[string]orders.Order{o.OrderRef: o},
	}
	r := NewRouter(zerolog.Nop())
	(&OrdersHandler{Store: store}).Register(r)

	cases := []struct {
		path string
		code int
	}{
		{"/orders/3f0c", http.StatusOK},
		{"/orders/by-ref/o1", http.StatusOK},
		{"/orders/missing", http.StatusNotFound},
		{"/orders/by-ref/missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			require.Equal(t, tc.code, rec.Code)
			if tc.code != http.StatusOK {
				return
			}
			assert.JSONEq(t,
				`{"id":"3f0c","orderRef":"o1","user":"alice","products":[],"totalPrice":15,"createdAt":"2024-01-02T03:04:05Z"}`,
				rec.Body.String())
		})
	}

	store.err = errors.New("db down")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/3f0c", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAccessLogRecordsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := NewRouter(logger)
	r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
		ctx := SetSubject(r.Context(), "alice")
		sub, ok := SubjectFrom(ctx)
		require.True(t, ok)
		WriteJSON(w, http.StatusTeapot, map[string]string{"sub": sub})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "alice", line["subject"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, "/me", line["path"])
	assert.NotEmpty(t, line["request_id"])
}
