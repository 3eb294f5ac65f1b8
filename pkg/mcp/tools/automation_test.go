package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/inventory"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/preview"
	"github.com/ekaya-inc/case-engine/pkg/registry"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
	"github.com/ekaya-inc/case-engine/pkg/retry"
	"github.com/ekaya-inc/case-engine/pkg/safety"
	"github.com/ekaya-inc/case-engine/pkg/services"
	"github.com/ekaya-inc/case-engine/pkg/validation"
)

var testInventory = []models.InventoryEntity{
	{EntityID: "light.office_1", FriendlyName: "Office Light 1", Area: "Office", Domain: "light"},
	{EntityID: "light.office_2", FriendlyName: "Office Light 2", Area: "Office", Domain: "light"},
	{EntityID: "light.porch", FriendlyName: "Porch Light", Area: "Porch", Domain: "light"},
	{EntityID: "lock.front_door", FriendlyName: "Front Door", Area: "Entry", Domain: "lock"},
}

func newToolServer(t *testing.T) (*server.MCPServer, *registry.MemoryRegistry) {
	t.Helper()
	logger := zap.NewNop()

	rules, err := safety.Compile(safety.DefaultRules())
	require.NoError(t, err)
	cache := inventory.NewCache(inventory.NewStaticSource(testInventory), inventory.CacheConfig{
		Retry: &retry.Config{MaxRetries: 0},
	}, logger)
	reg := registry.NewMemoryRegistry(nil, logger)

	orch := services.NewOrchestrator(services.OrchestratorDeps{
		Resolver:  resolution.NewService(cache, nil, rules, resolution.DefaultConfig(), logger),
		Safety:    safety.NewValidator(rules, logger),
		Validator: validation.NewChain(logger),
		Previews:  preview.NewStore(preview.DefaultConfig(), logger),
		Registry:  reg,
	}, services.DefaultOrchestratorConfig(), logger)

	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterAutomationTools(s, &AutomationToolDeps{Orchestrator: orch, Logger: logger})
	return s, reg
}

type toolResponse struct {
	Text    string
	IsError bool
	RPCErr  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) toolResponse {
	t.Helper()
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), request))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	out := toolResponse{IsError: response.Result.IsError, RPCErr: response.Error}
	if len(response.Result.Content) > 0 {
		out.Text = response.Result.Content[0].Text
	}
	return out
}

func decodeText(t *testing.T, resp toolResponse) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &m), resp.Text)
	return m
}

func porchHintArgs() map[string]any {
	return map[string]any{
		"alias":    "Porch Light Routine",
		"triggers": []any{map[string]any{"platform": "sun", "event": "sunset"}},
		"actions":  []any{map[string]any{"service": "light.turn_on", "targets": []any{"the porch light"}}},
	}
}

func TestRegisterAutomationTools_List(t *testing.T) {
	s, _ := newToolServer(t)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				InputSchema struct {
					Required []string `json:"required"`
				} `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	required := map[string][]string{}
	for _, tool := range response.Result.Tools {
		required[tool.Name] = tool.InputSchema.Required
	}
	for _, name := range []string{
		"propose_automation", "approve_automation", "create_automation", "redeploy_automation",
		"edit_automation", "reject_automation", "validate_automation", "resolve_entities", "list_inventory",
	} {
		assert.Contains(t, required, name)
	}
	assert.ElementsMatch(t, []string{"conversation_id", "draft_hint"}, required["propose_automation"])
	assert.ElementsMatch(t, []string{"conversation_id", "automation_id"}, required["redeploy_automation"])
	assert.ElementsMatch(t, []string{"mentions"}, required["resolve_entities"])
}

func TestAutomationTools_ProposeApproveRedeploy(t *testing.T) {
	s, reg := newToolServer(t)

	resp := callTool(t, s, "propose_automation", map[string]any{
		"conversation_id": "conv-1",
		"turn_id":         "t1",
		"draft_hint":      porchHintArgs(),
	})
	require.False(t, resp.IsError, resp.Text)
	out := decodeText(t, resp)
	assert.Equal(t, "awaiting_confirmation", out["status"])
	proposalID := out["preview"].(map[string]any)["proposal_id"].(string)

	resp = callTool(t, s, "approve_automation", map[string]any{
		"conversation_id": "conv-1",
		"proposal_id":     proposalID,
	})
	require.False(t, resp.IsError, resp.Text)
	out = decodeText(t, resp)
	assert.Equal(t, "created", out["status"])
	automationID := out["automation"].(map[string]any)["automation_id"].(string)

	// The preview was consumed.
	resp = callTool(t, s, "approve_automation", map[string]any{
		"conversation_id": "conv-1",
		"proposal_id":     proposalID,
	})
	require.True(t, resp.IsError)
	assert.Equal(t, "StaleApproval", decodeText(t, resp)["code"])

	resp = callTool(t, s, "propose_automation", map[string]any{
		"conversation_id": "conv-1",
		"draft_hint":      porchHintArgs(),
	})
	require.False(t, resp.IsError, resp.Text)

	resp = callTool(t, s, "redeploy_automation", map[string]any{
		"conversation_id": "conv-1",
		"automation_id":   automationID,
	})
	require.False(t, resp.IsError, resp.Text)
	out = decodeText(t, resp)
	assert.Equal(t, "redeployed", out["status"])
	assert.Equal(t, float64(2), out["automation"].(map[string]any)["version"])

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAutomationTools_Failures(t *testing.T) {
	s, _ := newToolServer(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{
			name: "missing conversation",
			tool: "propose_automation",
			args: map[string]any{"draft_hint": porchHintArgs()},
			code: "invalid_parameters",
		},
		{
			name: "hint is not an object",
			tool: "propose_automation",
			args: map[string]any{"conversation_id": "c", "draft_hint": "turn on the lights"},
			code: "invalid_parameters",
		},
		{
			name: "unknown hint field",
			tool: "propose_automation",
			args: map[string]any{"conversation_id": "c", "draft_hint": map[string]any{"alias": "x", "colour": "red"}},
			code: "invalid_parameters",
		},
		{
			name: "hint without actions",
			tool: "propose_automation",
			args: map[string]any{"conversation_id": "c", "draft_hint": map[string]any{"alias": "x"}},
			code: "InvalidIntent",
		},
		{
			name: "redeploy without target",
			tool: "redeploy_automation",
			args: map[string]any{"conversation_id": "c"},
			code: "invalid_parameters",
		},
		{
			name: "bad proposal id",
			tool: "reject_automation",
			args: map[string]any{"conversation_id": "c", "proposal_id": "not-a-uuid"},
			code: "InvalidIntent",
		},
		{
			name: "nothing to approve",
			tool: "approve_automation",
			args: map[string]any{"conversation_id": "c"},
			code: "StaleApproval",
		},
		{
			name: "ambiguous device",
			tool: "propose_automation",
			args: map[string]any{"conversation_id": "c", "draft_hint": map[string]any{
				"alias":    "Office",
				"triggers": []any{map[string]any{"platform": "sun", "event": "sunset"}},
				"actions":  []any{map[string]any{"service": "light.turn_on", "targets": []any{"the office light"}}},
			}},
			code: "AmbiguousReference",
		},
		{
			name: "unconfirmed lock",
			tool: "propose_automation",
			args: map[string]any{"conversation_id": "c", "draft_hint": map[string]any{
				"alias":    "Lock up",
				"triggers": []any{map[string]any{"platform": "sun", "event": "sunset"}},
				"actions":  []any{map[string]any{"service": "lock.lock", "entity_id": []any{"lock.front_door"}}},
			}},
			code: "RequiresConfirmation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			require.Nil(t, resp.RPCErr)
			require.True(t, resp.IsError, resp.Text)
			body := decodeText(t, resp)
			assert.Equal(t, true, body["error"])
			assert.Equal(t, tt.code, body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestAutomationTools_ConfirmedLock(t *testing.T) {
	s, _ := newToolServer(t)

	resp := callTool(t, s, "propose_automation", map[string]any{
		"conversation_id":   "c",
		"confirmation_flag": true,
		"draft_hint": map[string]any{
			"alias":    "Lock up",
			"triggers": []any{map[string]any{"platform": "sun", "event": "sunset"}},
			"actions":  []any{map[string]any{"service": "lock.lock", "entity_id": []any{"lock.front_door"}}},
		},
	})
	require.False(t, resp.IsError, resp.Text)
	assert.Equal(t, "awaiting_confirmation", decodeText(t, resp)["status"])
}

func TestAutomationTools_EditAndReject(t *testing.T) {
	s, _ := newToolServer(t)

	resp := callTool(t, s, "propose_automation", map[string]any{"conversation_id": "c", "draft_hint": porchHintArgs()})
	require.False(t, resp.IsError, resp.Text)
	first := decodeText(t, resp)["preview"].(map[string]any)["proposal_id"].(string)

	revised := porchHintArgs()
	revised["alias"] = "Porch Light At Dusk"
	resp = callTool(t, s, "edit_automation", map[string]any{
		"conversation_id": "c",
		"proposal_id":     first,
		"draft_hint":      revised,
	})
	require.False(t, resp.IsError, resp.Text)
	out := decodeText(t, resp)
	assert.Equal(t, "awaiting_confirmation", out["status"])
	second := out["preview"].(map[string]any)["proposal_id"].(string)
	assert.NotEqual(t, first, second)

	resp = callTool(t, s, "reject_automation", map[string]any{"conversation_id": "c", "proposal_id": first})
	require.True(t, resp.IsError)
	assert.Equal(t, "StaleApproval", decodeText(t, resp)["code"])

	resp = callTool(t, s, "reject_automation", map[string]any{"conversation_id": "c", "proposal_id": second})
	require.False(t, resp.IsError, resp.Text)
	assert.Equal(t, "rejected", decodeText(t, resp)["status"])
}

func TestValidateTool(t *testing.T) {
	s, _ := newToolServer(t)

	resp := callTool(t, s, "validate_automation", map[string]any{"draft_hint": porchHintArgs()})
	require.False(t, resp.IsError, resp.Text)
	out := decodeText(t, resp)
	assert.Equal(t, "validated", out["status"])
	assert.Nil(t, out["preview"])

	resp = callTool(t, s, "approve_automation", map[string]any{"conversation_id": "c"})
	require.True(t, resp.IsError, "a dry run must not leave a preview behind")
}

func TestResolveEntitiesTool(t *testing.T) {
	s, _ := newToolServer(t)

	resp := callTool(t, s, "resolve_entities", map[string]any{
		"mentions":           []any{"the second office light"},
		"current_turn_areas": []any{"office"},
	})
	require.False(t, resp.IsError, resp.Text)
	assert.Contains(t, resp.Text, "light.office_2")

	resp = callTool(t, s, "resolve_entities", map[string]any{"mentions": []any{}})
	require.True(t, resp.IsError)
	assert.Equal(t, "invalid_parameters", decodeText(t, resp)["code"])

	resp = callTool(t, s, "resolve_entities", map[string]any{"mentions": []any{1, 2}})
	require.True(t, resp.IsError)
}

func TestListInventoryTool(t *testing.T) {
	s, _ := newToolServer(t)

	resp := callTool(t, s, "list_inventory", map[string]any{"area_hint": "office"})
	require.False(t, resp.IsError, resp.Text)

	var view services.InventoryView
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &view))
	require.Len(t, view.Entities, 2)
	for _, e := range view.Entities {
		assert.Equal(t, "Office", e.Area)
	}
}
