package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusForKind maps a failure kind to an HTTP status.
func StatusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindInvalidIntent:
		return http.StatusBadRequest
	case apperrors.KindStaleApproval:
		return http.StatusConflict
	case apperrors.KindAmbiguousReference, apperrors.KindUnresolvedReference,
		apperrors.KindRequiresConfirmation, apperrors.KindUnsafeAction,
		apperrors.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case apperrors.KindResolutionUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.KindRegistryWriteFailed:
		return http.StatusBadGateway
	case apperrors.KindValidationDegraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// FailureResponse writes err as {"error": kind, "message": reason}. Only the
// sanitized reason leaves the process.
func FailureResponse(w http.ResponseWriter, err error) error {
	f := apperrors.UserFacing(err)
	return ErrorResponse(w, StatusForKind(f.Kind), string(f.Kind), f.Reason)
}
