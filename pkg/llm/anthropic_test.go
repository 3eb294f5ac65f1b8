package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMessagesCreator struct {
	req  anthropic.MessagesRequest
	resp anthropic.MessagesResponse
	err  error
}

func (f *fakeMessagesCreator) CreateMessages(_ context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestAnthropicPlanner_Next(t *testing.T) {
	text := "Let me look at the office lights."
	fake := &fakeMessagesCreator{resp: anthropic.MessagesResponse{
		Content: []anthropic.MessageContent{
			{Type: anthropic.MessagesContentTypeText, Text: &text},
			anthropic.NewToolUseMessageContent("tu_1", ToolResolveEntities, json.RawMessage(`{"mentions":["office light"]}`)),
		},
	}}

	planner := NewAnthropicPlanner(fake, "claude-test", "", 0.1, zap.NewNop())
	step, err := planner.Next(context.Background(), []Message{{Role: RoleUser, Content: "turn on the office light at 7"}}, AutomationTools())
	require.NoError(t, err)

	assert.Equal(t, anthropic.Model("claude-test"), fake.req.Model)
	assert.Equal(t, DefaultPlannerPrompt, fake.req.System)
	assert.Len(t, fake.req.Tools, len(AutomationTools()))
	require.Len(t, fake.req.Messages, 1)
	assert.Equal(t, anthropic.RoleUser, fake.req.Messages[0].Role)

	assert.Equal(t, text, step.Content)
	require.Len(t, step.ToolCalls, 1)
	assert.Equal(t, "tu_1", step.ToolCalls[0].ID)
	assert.Equal(t, ToolResolveEntities, step.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"mentions":["office light"]}`, step.ToolCalls[0].Function.Arguments)
}

func TestAnthropicPlanner_WrapsErrors(t *testing.T) {
	fake := &fakeMessagesCreator{err: errors.New("overloaded")}

	_, err := NewAnthropicPlanner(fake, "claude-test", "", 0, zap.NewNop()).Next(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner completion")
}

func TestToAnthropicMessages_MergesToolResults(t *testing.T) {
	system, msgs := toAnthropicMessages([]Message{
		{Role: RoleSystem, Content: "extra context"},
		{Role: RoleUser, Content: "porch light at sunset"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Function: ToolCallFunc{Name: ToolListInventory, Arguments: `{}`}},
			{ID: "b", Function: ToolCallFunc{Name: ToolResolveEntities, Arguments: `not json`}},
		}},
		{Role: RoleTool, ToolCallID: "a", Content: `{"entities":[]}`},
		{Role: RoleTool, ToolCallID: "b", Content: `{"error":{"kind":"InvalidIntent"}}`},
	})

	assert.Equal(t, "extra context", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.RoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.RoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, anthropic.RoleUser, msgs[2].Role)
	assert.Len(t, msgs[2].Content, 2, "tool results share one user turn")
}
