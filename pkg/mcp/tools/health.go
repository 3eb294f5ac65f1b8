package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthProbe reports the state of each dependency; "ok" means healthy.
type HealthProbe func(ctx context.Context) map[string]string

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and dependency checks. probe may be nil.
func RegisterHealthTool(s *server.MCPServer, version string, probe HealthProbe) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if probe != nil {
			result.Checks = probe(ctx)
			for _, state := range result.Checks {
				if state != "ok" {
					result.Status = "degraded"
				}
			}
		}
		return jsonResult(result)
	})
}
