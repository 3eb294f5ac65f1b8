package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 2048

// MessagesCreator is the subset of the Anthropic client used by AnthropicPlanner.
type MessagesCreator interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

var _ MessagesCreator = (*anthropic.Client)(nil)

// AnthropicPlanner implements Planner over the Anthropic Messages API.
type AnthropicPlanner struct {
	client       MessagesCreator
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
	logger       *zap.Logger
}

// NewAnthropicClient creates a Messages API client. An empty baseURL uses the
// public endpoint.
func NewAnthropicClient(apiKey, baseURL string) *anthropic.Client {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return anthropic.NewClient(apiKey, opts...)
}

// NewAnthropicPlanner creates a planner. An empty prompt selects DefaultPlannerPrompt.
func NewAnthropicPlanner(client MessagesCreator, model, systemPrompt string, temperature float64, logger *zap.Logger) *AnthropicPlanner {
	if systemPrompt == "" {
		systemPrompt = DefaultPlannerPrompt
	}
	return &AnthropicPlanner{
		client:       client,
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  float32(temperature),
		maxTokens:    defaultAnthropicMaxTokens,
		logger:       logger.Named("planner"),
	}
}

var _ Planner = (*AnthropicPlanner)(nil)

// Next asks the model for the next step.
func (p *AnthropicPlanner) Next(ctx context.Context, messages []Message, tools []ToolDefinition) (*PlanStep, error) {
	system, converted := toAnthropicMessages(messages)
	if system == "" {
		system = p.systemPrompt
	} else {
		system = p.systemPrompt + "\n\n" + system
	}

	temperature := p.temperature
	resp, err := p.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		System:      system,
		Messages:    converted,
		MaxTokens:   p.maxTokens,
		Temperature: &temperature,
		Tools:       toAnthropicTools(tools),
	})
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	step := fromAnthropicContent(resp.Content)
	p.logger.Debug("Planner step",
		zap.String("conversation_id", ConversationID(ctx)),
		zap.String("stop_reason", string(resp.StopReason)),
		zap.Int("tool_calls", len(step.ToolCalls)))
	return step, nil
}

func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolDefinition {
	out := make([]anthropic.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

// toAnthropicMessages maps the chat transcript to Messages API turns. System
// messages are returned separately. Consecutive tool results are merged into
// one user turn because the API requires alternating roles.
func toAnthropicMessages(messages []Message) (string, []anthropic.Message) {
	var system []string
	var out []anthropic.Message

	appendContent := func(role anthropic.ChatRole, content anthropic.MessageContent) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, content)
			return
		}
		out = append(out, anthropic.Message{Role: role, Content: []anthropic.MessageContent{content}})
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			appendContent(anthropic.RoleUser, anthropic.NewTextMessageContent(m.Content))
		case RoleAssistant:
			if m.Content != "" {
				appendContent(anthropic.RoleAssistant, anthropic.NewTextMessageContent(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				appendContent(anthropic.RoleAssistant, anthropic.NewToolUseMessageContent(tc.ID, tc.Function.Name, input))
			}
		case RoleTool:
			isError := strings.HasPrefix(m.Content, `{"error":`)
			appendContent(anthropic.RoleUser, anthropic.NewToolResultMessageContent(m.ToolCallID, m.Content, isError))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func fromAnthropicContent(content []anthropic.MessageContent) *PlanStep {
	step := &PlanStep{}
	var text []string
	for _, c := range content {
		switch c.Type {
		case anthropic.MessagesContentTypeText:
			if c.Text != nil && *c.Text != "" {
				text = append(text, *c.Text)
			}
		case anthropic.MessagesContentTypeToolUse:
			if c.MessageContentToolUse == nil {
				continue
			}
			args := string(c.MessageContentToolUse.Input)
			if args == "" {
				args = "{}"
			}
			step.ToolCalls = append(step.ToolCalls, ToolCall{
				ID:   c.MessageContentToolUse.ID,
				Type: "function",
				Function: ToolCallFunc{
					Name:      c.MessageContentToolUse.Name,
					Arguments: args,
				},
			})
		}
	}
	step.Content = cleanModelOutput(strings.Join(text, "\n"))
	return step
}
