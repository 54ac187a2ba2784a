package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type InventoryHandler struct {
	Inventory *inventory.Service
	Validate  *validator.Validate
}

type AdjustmentUpdate struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id" validate:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" validate:"ne=0"`
}

type AdjustmentReq struct {
	Key     string             `json:"key" validate:"required,max=128"`
	Reason  string             `json:"reason" validate:"omitempty,max=64"`
	Updates []AdjustmentUpdate `json:"updates" validate:"required,min=1,dive"`
}

type AdjustmentResp struct {
	Key     string `json:"key"`
	Applied bool   `json:"applied"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/products/{id}/availability", h.availability)
	r.Post("/inventory/adjustments", h.adjust)
}

func (h *InventoryHandler) availability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	sum, err := h.Inventory.Availability(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentReq
	if err := decode(r, h.Validate, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}

	deltas := make([]inventory.Delta, 0, len(req.Updates))
	for _, u := range req.Updates {
		deltas = append(deltas, inventory.Delta{
			Key:      inventory.Key{ProductID: u.ProductID, VariantID: u.VariantID, Size: u.Size},
			Quantity: u.Quantity,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	applied, err := h.Inventory.Adjust(ctx, req.Key, req.Reason, deltas)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	code := http.StatusCreated
	if !applied {
		code = http.StatusOK
	}
	writeJSON(w, code, AdjustmentResp{Key: req.Key, Applied: applied})
}
