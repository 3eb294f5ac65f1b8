package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// Invalidator drops cached inventory snapshots.
type Invalidator interface {
	Invalidate()
}

// InventoryHandler lets the registry announce device changes.
type InventoryHandler struct {
	cache  Invalidator
	logger *zap.Logger
}

// NewInventoryHandler creates an InventoryHandler.
func NewInventoryHandler(cache Invalidator, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{cache: cache, logger: logger.Named("inventory")}
}

// RegisterRoutes registers the inventory routes on the given mux.
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/inventory/refresh", h.Refresh)
}

// Refresh handles POST /api/inventory/refresh. The next resolution reads a
// fresh snapshot from the source.
func (h *InventoryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.cache.Invalidate()
	h.logger.Info("Inventory cache invalidated", zap.String("remote_addr", r.RemoteAddr))
	if err := WriteJSON(w, http.StatusAccepted, map[string]string{"status": "invalidated"}); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}
