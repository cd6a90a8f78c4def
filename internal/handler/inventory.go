package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stocksync/internal/service"
	"stocksync/pkg/apierror"
	"stocksync/pkg/response"
)

// InventoryHandler handles inventory-related HTTP requests.
type InventoryHandler struct {
	inventoryService *service.InventoryService
}

// NewInventoryHandler creates a new inventory handler.
func NewInventoryHandler(inventoryService *service.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
	}
}

// GetBySKU handles GET /admin/products/{sku}
func (h *InventoryHandler) GetBySKU(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if sku == "" {
		response.Error(w, apierror.BadRequest("sku is required"))
		return
	}

	view, err := h.inventoryService.GetBySKU(r.Context(), sku)
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, view)
}

// ListProducts handles GET /admin/products
func (h *InventoryHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	_, limit, offset := pagination(r, 50, 200)
	products, err := h.inventoryService.ListProducts(r.Context(), limit, offset)
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, map[string]interface{}{
		"products": products,
		"limit":    limit,
		"offset":   offset,
	})
}
