package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc represents a function call within a tool call.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

var (
	toolCallPattern      = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	toolCallBlockPattern = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`)
	thinkBlockPattern    = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	multiNewlinePattern  = regexp.MustCompile(`\n{3,}`)
)

// parseTextToolCalls parses <tool_call>{"name": ..., "arguments": {...}}</tool_call>
// blocks emitted by models without native tool calling.
func parseTextToolCalls(content string, logger *zap.Logger) []ToolCall {
	var toolCalls []ToolCall
	for i, match := range toolCallPattern.FindAllStringSubmatch(content, -1) {
		var call struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(match[1]), &call); err != nil {
			logger.Debug("Failed to parse text tool call", zap.Error(err))
			continue
		}
		argsJSON, err := json.Marshal(call.Arguments)
		if err != nil {
			continue
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:   fmt.Sprintf("text_tool_%d", i),
			Type: "function",
			Function: ToolCallFunc{
				Name:      call.Name,
				Arguments: string(argsJSON),
			},
		})
	}
	return toolCalls
}

// cleanModelOutput removes tool call markup and thinking blocks from model output.
func cleanModelOutput(content string) string {
	content = thinkBlockPattern.ReplaceAllString(content, "")
	content = toolCallBlockPattern.ReplaceAllString(content, "")
	content = multiNewlinePattern.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
