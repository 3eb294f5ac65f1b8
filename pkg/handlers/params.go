package handlers

import (
	"net/http"
	"regexp"

	"go.uber.org/zap"
)

// identifierPattern bounds path identifiers to safe, log-friendly values.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ParseConversationID extracts and validates the conversation ID from the request path.
// Returns the ID and true on success, or "" and false on error
// (after writing an error response).
// Expects path parameter: cid
func ParseConversationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return parseIdentifier(w, r, "cid", "invalid_conversation_id", "Invalid conversation ID", logger)
}

// ParseAutomationID extracts and validates the automation ID from the request path.
// Expects path parameter: aid
func ParseAutomationID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	return parseIdentifier(w, r, "aid", "invalid_automation_id", "Invalid automation ID", logger)
}

func parseIdentifier(w http.ResponseWriter, r *http.Request, param, code, message string, logger *zap.Logger) (string, bool) {
	value := r.PathValue(param)
	if !identifierPattern.MatchString(value) {
		if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return value, true
}
