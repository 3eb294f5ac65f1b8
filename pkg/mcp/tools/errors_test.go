package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
)

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return resp
}

func TestNewErrorResult(t *testing.T) {
	resp := decodeErrorResult(t, NewErrorResult("invalid_parameters", "conversation_id is required"))
	assert.True(t, resp.Error)
	assert.Equal(t, "invalid_parameters", resp.Code)
	assert.Equal(t, "conversation_id is required", resp.Message)
	assert.Nil(t, resp.Details)
}

func TestNewFailureResult(t *testing.T) {
	err := apperrors.Wrap(apperrors.KindRegistryWriteFailed, "the automation registry did not accept the write",
		errors.New("dial tcp 10.0.0.4:5432: password=hunter2"))
	resp := decodeErrorResult(t, NewFailureResult(err, map[string]any{"status": "failed"}))

	assert.Equal(t, string(apperrors.KindRegistryWriteFailed), resp.Code)
	assert.Equal(t, "the automation registry did not accept the write", resp.Message)
	assert.Equal(t, map[string]any{"status": "failed"}, resp.Details)
	assert.NotContains(t, resp.Message, "hunter2")
}

func TestIsSystemError(t *testing.T) {
	assert.False(t, IsSystemError(nil))
	assert.True(t, IsSystemError(errors.New("boom")))
	assert.False(t, IsSystemError(apperrors.New(apperrors.KindStaleApproval, "stale")))
}
