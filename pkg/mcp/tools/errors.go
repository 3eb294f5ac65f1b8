package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// It is returned as a tool result so the caller sees the failure and can act
// on it, rather than having it swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can fix (bad parameters, a stale
// proposal, an ambiguous device). System failures still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewFailureResult converts a classified engine error into an error result.
// The code is the failure kind; details carry the outcome when there is one,
// e.g. clarification candidates for an ambiguous reference.
func NewFailureResult(err error, details any) *mcp.CallToolResult {
	f := apperrors.UserFacing(err)
	return NewErrorResultWithDetails(string(f.Kind), f.Reason, details)
}

// IsSystemError reports whether err is an unclassified failure that should
// surface as an MCP protocol error instead of a tool result.
func IsSystemError(err error) bool {
	return err != nil && apperrors.KindOf(err) == apperrors.KindInternal
}
