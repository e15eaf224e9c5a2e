package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/go-chi/chi/v5"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	GetOrderByRef(ctx context.Context, orderRef string) (orders.Order, error)
}

// OrdersHandler is the read side of the pipeline: persisted orders by store
// id or by the producer's orderId.
type OrdersHandler struct {
	Store OrderReader
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/by-ref/{orderId}", h.getOrderByRef)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, chi.URLParam(r, "id"), h.Store.GetOrder)
}

func (h *OrdersHandler) getOrderByRef(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, chi.URLParam(r, "orderId"), h.Store.GetOrderByRef)
}

func (h *OrdersHandler) lookup(w http.ResponseWriter, r *http.Request, id string,
	get func(context.Context, string) (orders.Order, error)) {
	if id == "" {
		WriteError(w, http.StatusBadRequest, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := get(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, o)
}
