package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PlanStep is the planner's output for one round: tool calls to execute, or
// a final message for the user when ToolCalls is empty.
type PlanStep struct {
	Content   string
	ToolCalls []ToolCall
}

// Planner is the reasoning step of the orchestration loop. It sees the
// conversation so far (including tool results) and decides what to call next.
type Planner interface {
	Next(ctx context.Context, messages []Message, tools []ToolDefinition) (*PlanStep, error)
}

// ChatCompleter is the subset of Client used by OpenAIPlanner.
type ChatCompleter interface {
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, temperature float64) (*ChatResult, error)
}

var _ ChatCompleter = (*Client)(nil)

// DefaultPlannerPrompt instructs the model how to drive the automation tools.
const DefaultPlannerPrompt = `You build home automations from user requests.
Use resolve_entities or list_inventory when you are unsure which device the user means.
Call propose_automation with a draft_hint to show the user a preview; never create an automation the user has not confirmed.
When the user confirms a preview call approve_automation with its proposal_id. When they ask for changes call edit_automation and then propose a revised draft.
If a tool reports an ambiguous or unresolved reference, ask the user a short clarifying question instead of guessing.
Only set confirmation_flag when the user explicitly confirmed a lock, alarm or other security-sensitive action.`

// OpenAIPlanner implements Planner over an OpenAI-compatible chat endpoint.
type OpenAIPlanner struct {
	client       ChatCompleter
	systemPrompt string
	temperature  float64
	logger       *zap.Logger
}

// NewOpenAIPlanner creates a planner. An empty prompt selects DefaultPlannerPrompt.
func NewOpenAIPlanner(client ChatCompleter, systemPrompt string, temperature float64, logger *zap.Logger) *OpenAIPlanner {
	if systemPrompt == "" {
		systemPrompt = DefaultPlannerPrompt
	}
	return &OpenAIPlanner{
		client:       client,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		logger:       logger.Named("planner"),
	}
}

var _ Planner = (*OpenAIPlanner)(nil)

// Next asks the model for the next step.
func (p *OpenAIPlanner) Next(ctx context.Context, messages []Message, tools []ToolDefinition) (*PlanStep, error) {
	withSystem := make([]Message, 0, len(messages)+1)
	withSystem = append(withSystem, Message{Role: RoleSystem, Content: p.systemPrompt})
	withSystem = append(withSystem, messages...)

	result, err := p.client.ChatWithTools(ctx, withSystem, tools, p.temperature)
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	p.logger.Debug("Planner step",
		zap.String("conversation_id", ConversationID(ctx)),
		zap.Int("tool_calls", len(result.ToolCalls)))

	return &PlanStep{Content: result.Content, ToolCalls: result.ToolCalls}, nil
}
