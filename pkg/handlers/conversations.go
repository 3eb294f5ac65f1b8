package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/services"
)

// maxIntentBytes bounds an inbound intent or turn body.
const maxIntentBytes = 1 << 20

// ConversationHandler exposes the orchestrator over HTTP.
type ConversationHandler struct {
	orchestrator *services.Orchestrator
	logger       *zap.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(orchestrator *services.Orchestrator, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		orchestrator: orchestrator,
		logger:       logger.Named("conversations"),
	}
}

// RegisterRoutes registers the conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations/{cid}/intents", h.PostIntent)
	mux.HandleFunc("POST /api/conversations/{cid}/turns", h.PostTurn)
	mux.HandleFunc("GET /api/conversations/{cid}/preview", h.GetPreview)
}

// PostIntent handles POST /api/conversations/{cid}/intents.
// The body is an intent envelope; conversation_id defaults to the path value.
func (h *ConversationHandler) PostIntent(w http.ResponseWriter, r *http.Request) {
	cid, ok := ParseConversationID(w, r, h.logger)
	if !ok {
		return
	}

	env, err := services.DecodeEnvelope(http.MaxBytesReader(w, r.Body, maxIntentBytes))
	if err != nil {
		h.fail(w, err)
		return
	}
	if env.ConversationID == "" {
		env.ConversationID = cid
	}
	if env.ConversationID != cid {
		h.fail(w, apperrors.New(apperrors.KindInvalidIntent, "conversation_id does not match the request path"))
		return
	}
	in, err := env.Intent()
	if err != nil {
		h.fail(w, err)
		return
	}

	out, err := h.orchestrator.HandleIntent(r.Context(), in)
	status := http.StatusOK
	if err != nil {
		status = StatusForKind(apperrors.KindOf(err))
	}
	if err := WriteJSON(w, status, out); err != nil {
		h.logger.Error("Failed to encode intent outcome", zap.Error(err))
	}
}

// PostTurn handles POST /api/conversations/{cid}/turns, running the planner loop.
func (h *ConversationHandler) PostTurn(w http.ResponseWriter, r *http.Request) {
	cid, ok := ParseConversationID(w, r, h.logger)
	if !ok {
		return
	}

	var req services.TurnRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxIntentBytes), &req); err != nil {
		h.fail(w, apperrors.Wrap(apperrors.KindInvalidIntent, "turn is not valid JSON", err))
		return
	}
	req.ConversationID = cid

	result, err := h.orchestrator.RunTurn(r.Context(), req)
	if errors.Is(err, services.ErrPlannerUnavailable) {
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "planner_unavailable", "No language model is configured"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		h.logger.Error("Turn failed",
			zap.String("conversation_id", cid),
			zap.Error(err))
		h.fail(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode turn result", zap.Error(err))
	}
}

// GetPreview handles GET /api/conversations/{cid}/preview.
func (h *ConversationHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	cid, ok := ParseConversationID(w, r, h.logger)
	if !ok {
		return
	}

	rec, found := h.orchestrator.Conversation(cid)
	if !found {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Unknown conversation"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusOK, services.NewPreviewView(rec)); err != nil {
		h.logger.Error("Failed to encode preview", zap.Error(err))
	}
}

func (h *ConversationHandler) fail(w http.ResponseWriter, err error) {
	if err := FailureResponse(w, err); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
