package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/registry"
)

// AutomationListResponse wraps the deployed automations.
type AutomationListResponse struct {
	Automations []models.DeployedAutomation `json:"automations"`
	Total       int                         `json:"total"`
}

// AutomationHandler serves read-only views of the registry.
type AutomationHandler struct {
	registry registry.Registry
	logger   *zap.Logger
}

// NewAutomationHandler creates an AutomationHandler.
func NewAutomationHandler(reg registry.Registry, logger *zap.Logger) *AutomationHandler {
	return &AutomationHandler{registry: reg, logger: logger.Named("automations")}
}

// RegisterRoutes registers the automation routes on the given mux.
func (h *AutomationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/automations", h.List)
	mux.HandleFunc("GET /api/automations/{aid}", h.Get)
}

// List handles GET /api/automations.
func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list automations", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_failed", "Failed to list automations"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if list == nil {
		list = []models.DeployedAutomation{}
	}
	if err := WriteJSON(w, http.StatusOK, AutomationListResponse{Automations: list, Total: len(list)}); err != nil {
		h.logger.Error("Failed to encode automations", zap.Error(err))
	}
}

// Get handles GET /api/automations/{aid}.
func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	aid, ok := ParseAutomationID(w, r, h.logger)
	if !ok {
		return
	}

	automation, err := h.registry.Get(r.Context(), aid)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		err = ErrorResponse(w, http.StatusNotFound, "not_found", "Automation not found")
	case err != nil:
		h.logger.Error("Failed to get automation", zap.String("automation_id", aid), zap.Error(err))
		err = ErrorResponse(w, http.StatusInternalServerError, "get_failed", "Failed to get automation")
	default:
		err = WriteJSON(w, http.StatusOK, automation)
	}
	if err != nil {
		h.logger.Error("Failed to write automation response", zap.Error(err))
	}
}
