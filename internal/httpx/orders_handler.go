package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Orders   *orders.Service
	Validate *validator.Validate
}

type CreateOrderReq struct {
	ExternalID     string            `json:"external_id" validate:"omitempty,max=128"`
	Cart           []orders.CartLine `json:"cart" validate:"required,min=1,dive"`
	Customer       orders.Customer   `json:"customer"`
	Channel        string            `json:"channel" validate:"omitempty,max=64"`
	ShippingCost   decimal.Decimal   `json:"shipping_cost"`
	Discount       decimal.Decimal   `json:"discount"`
	AdvancePayment decimal.Decimal   `json:"advance_payment"`
	Total          *decimal.Decimal  `json:"total"`
	Moderator      string            `json:"moderator"`
}

type EditOrderReq struct {
	Version        int64             `json:"version" validate:"gt=0"`
	Cart           []orders.CartLine `json:"cart" validate:"required,min=1,dive"`
	Customer       orders.Customer   `json:"customer"`
	ShippingCost   decimal.Decimal   `json:"shipping_cost"`
	Discount       decimal.Decimal   `json:"discount"`
	AdvancePayment decimal.Decimal   `json:"advance_payment"`
	Total          *decimal.Decimal  `json:"total"`
	Moderator      string            `json:"moderator"`
}

type ChangeStatusReq struct {
	Version   int64  `json:"version" validate:"gt=0"`
	Status    string `json:"status" validate:"required"`
	Moderator string `json:"moderator"`
}

type CreateOrderResp struct {
	*orders.Order
	Idempotent bool `json:"idempotent"`
}

type StatusResp struct {
	OrderID string        `json:"order_id"`
	Status  orders.Status `json:"status"`
}

type SuccessRateResp struct {
	Phone string `json:"phone"`
	courier.SuccessRate
	Ratio float64 `json:"ratio"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}", h.editOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.changeStatus)
	r.Get("/orders/{id}/consignment", h.getConsignment)
	r.Get("/customers/{phone}/success-rate", h.successRate)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, h.Validate, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, existed, err := h.Orders.Create(ctx, orders.CreateInput{
		ExternalID: req.ExternalID,
		Lines:      req.Cart,
		Customer:   req.Customer,
		Channel:    req.Channel,
		Charges:    orders.Charges{ShippingCost: req.ShippingCost, Discount: req.Discount, AdvancePayment: req.AdvancePayment},
		Total:      req.Total,
		Moderator:  req.Moderator,
	})
	if err != nil {
		writeError(w, r, err, o)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: o, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) editOrder(w http.ResponseWriter, r *http.Request) {
	var req EditOrderReq
	if err := decode(r, h.Validate, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Orders.Edit(ctx, chi.URLParam(r, "id"), orders.EditInput{
		Version:   req.Version,
		Lines:     req.Cart,
		Customer:  req.Customer,
		Charges:   orders.Charges{ShippingCost: req.ShippingCost, Discount: req.Discount, AdvancePayment: req.AdvancePayment},
		Total:     req.Total,
		Moderator: req.Moderator,
	})
	if err != nil {
		writeError(w, r, err, o)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || version <= 0 {
		writeError(w, r, fmt.Errorf("%w: version query parameter is required", orders.ErrValidation), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Orders.Delete(ctx, chi.URLParam(r, "id"), version, r.URL.Query().Get("moderator")); err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	st, err := h.Orders.Status(ctx, id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, StatusResp{OrderID: id, Status: st})
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusReq
	if err := decode(r, h.Validate, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.Orders.ChangeStatus(ctx, chi.URLParam(r, "id"), req.Version, to, req.Moderator)
	if err != nil {
		writeError(w, r, err, o)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getConsignment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	st, err := h.Orders.ConsignmentStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) successRate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	phone := chi.URLParam(r, "phone")
	rate, err := h.Orders.SuccessRate(ctx, phone)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, SuccessRateResp{Phone: phone, SuccessRate: rate, Ratio: rate.Ratio()})
}
