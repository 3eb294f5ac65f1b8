package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
)

// registerResolveEntitiesTool adds resolve_entities, which maps free-text
// device references to inventory entities with confidence scores.
func registerResolveEntitiesTool(s *server.MCPServer, deps *AutomationToolDeps) {
	tool := mcp.NewTool(
		"resolve_entities",
		mcp.WithDescription(
			"Resolve free-text device references such as 'the second office light' to concrete entities. "+
				"Returns each mention's best match with a confidence score, or the candidates when it is ambiguous.",
		),
		mcp.WithArray("mentions", mcp.Required(), mcp.Description("Device references to resolve"), mcp.WithStringItems()),
		mcp.WithArray("current_turn_areas", mcp.Description("Areas named in the current message"), mcp.WithStringItems()),
		mcp.WithArray("history_areas", mcp.Description("Areas named earlier in the conversation"), mcp.WithStringItems()),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r resolution.Request
		var err error
		if r.Mentions, err = getStringArray(req, "mentions"); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if len(r.Mentions) == 0 {
			return NewErrorResult("invalid_parameters", "mentions must contain at least one device reference"), nil
		}
		if r.CurrentTurnAreas, err = getStringArray(req, "current_turn_areas"); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if r.HistoryAreas, err = getStringArray(req, "history_areas"); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		res, err := deps.Orchestrator.Resolve(ctx, r)
		if IsSystemError(err) {
			return nil, fmt.Errorf("resolve_entities failed: %w", err)
		}
		if err != nil {
			return NewFailureResult(err, nil), nil
		}
		return jsonResult(res)
	})
}

// registerListInventoryTool adds list_inventory for browsing devices.
func registerListInventoryTool(s *server.MCPServer, deps *AutomationToolDeps) {
	tool := mcp.NewTool(
		"list_inventory",
		mcp.WithDescription("List devices in the home, optionally filtered by area or domain"),
		mcp.WithString("area_hint", mcp.Description("Optional area, e.g. office")),
		mcp.WithString("domain_hint", mcp.Description("Optional domain, e.g. light")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view, err := deps.Orchestrator.Inventory(ctx, models.InventoryQuery{
			AreaHint:   getOptionalString(req, "area_hint"),
			DomainHint: getOptionalString(req, "domain_hint"),
		})
		if IsSystemError(err) {
			return nil, fmt.Errorf("list_inventory failed: %w", err)
		}
		if err != nil {
			return NewFailureResult(err, nil), nil
		}
		return jsonResult(view)
	})
}
