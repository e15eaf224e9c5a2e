package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-pipeline/internal/httpx"
	"github.com/ariefcatur/go-order-pipeline/internal/orders"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *Service
}

type createProductReq struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Price       *orders.Price `json:"price"`
}

type buyReq struct {
	IDs []string `json:"ids"`
}

// Register mounts the product routes; auth must already be applied to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/products", h.createProduct)
	r.Get("/products", h.listProducts)
	r.Post("/products/buy", h.buy)
	r.Get("/products/orders/{orderId}", h.orderResult)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Price == nil {
		httpx.WriteError(w, http.StatusBadRequest, "name and price are required")
		return
	}
	if req.Price.IsNegative() {
		httpx.WriteError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	p, err := h.Service.Products.CreateProduct(ctx, req.Name, req.Description, *req.Price)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.Products.ListProducts(ctx)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ps)
}

func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	user, ok := httpx.SubjectFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var req buyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.Service.Buy(r.Context(), user, req.IDs)
	switch {
	case errors.Is(err, ErrNoProducts):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrProductNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		httpx.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Pending {
		httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"orderId": res.OrderID, "status": "pending"})
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res.Order)
}

func (h *Handler) orderResult(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	evt, err := h.Service.Result(ctx, orderID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evt == nil {
		httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"orderId": orderID, "status": "pending"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, evt)
}
