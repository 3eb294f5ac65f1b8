package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIPlanner_PrependsSystemPrompt(t *testing.T) {
	var seen []Message
	mock := &MockChatCompleter{
		ChatWithToolsFunc: func(ctx context.Context, messages []Message, tools []ToolDefinition, temperature float64) (*ChatResult, error) {
			seen = messages
			assert.InDelta(t, 0.2, temperature, 1e-9)
			return &ChatResult{
				ToolCalls: []ToolCall{{ID: "c1", Type: "function", Function: ToolCallFunc{Name: ToolListInventory, Arguments: "{}"}}},
			}, nil
		},
	}

	planner := NewOpenAIPlanner(mock, "", 0.2, zap.NewNop())
	step, err := planner.Next(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, AutomationTools())
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, RoleSystem, seen[0].Role)
	assert.Equal(t, DefaultPlannerPrompt, seen[0].Content)
	assert.Equal(t, "hi", seen[1].Content)
	require.Len(t, step.ToolCalls, 1)
	assert.Equal(t, ToolListInventory, step.ToolCalls[0].Function.Name)
}

func TestOpenAIPlanner_WrapsErrors(t *testing.T) {
	mock := &MockChatCompleter{
		ChatWithToolsFunc: func(ctx context.Context, messages []Message, tools []ToolDefinition, temperature float64) (*ChatResult, error) {
			return nil, NewError(ErrorTypeEndpoint, "server error", true, errors.New("503"))
		},
	}
	planner := NewOpenAIPlanner(mock, "custom", 0, zap.NewNop())

	_, err := planner.Next(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestScriptedPlanner_ReplaysStepsAndRecordsMessages(t *testing.T) {
	planner := NewScriptedPlanner(PlanStep{Content: "one"}, PlanStep{Content: "two"})

	step, err := planner.Next(context.Background(), []Message{{Role: RoleUser, Content: "a"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "one", step.Content)

	step, err = planner.Next(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "two", step.Content)

	_, err = planner.Next(context.Background(), nil, nil)
	assert.Error(t, err)
	assert.Equal(t, 3, planner.Calls())
	assert.Equal(t, "a", planner.Seen[0][0].Content)
}

func TestEmbeddingClient_Embed(t *testing.T) {
	mock := &MockEmbeddingCreator{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			assert.Equal(t, "embed-model", model)
			out := make([][]float32, len(inputs))
			for i := range inputs {
				out[i] = []float32{float32(i)}
			}
			return out, nil
		},
	}
	client := NewEmbeddingClient(mock, "embed-model", zap.NewNop())

	vectors, err := client.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}}, vectors)

	vectors, err = client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, 1, mock.Calls)
}

func TestEmbeddingClient_RejectsShortResponse(t *testing.T) {
	mock := &MockEmbeddingCreator{
		CreateEmbeddingsFunc: func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		},
	}
	client := NewEmbeddingClient(mock, "", zap.NewNop())

	_, err := client.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestAutomationTools_ReadOnlyClassification(t *testing.T) {
	readOnly := 0
	for _, tool := range AutomationTools() {
		params := tool.Parameters
		assert.Equal(t, "object", params["type"], tool.Name)
		assert.NotNil(t, params["required"], tool.Name)
		if IsReadOnlyTool(tool.Name) {
			readOnly++
		}
	}
	assert.Equal(t, 3, readOnly)
	assert.False(t, IsReadOnlyTool(ToolApproveAutomation))
}

func TestAutomationTools_DeployingToolsNeedProposal(t *testing.T) {
	required := map[string][]string{}
	for _, tool := range AutomationTools() {
		required[tool.Name], _ = tool.Parameters["required"].([]string)
	}
	assert.Equal(t, []string{"proposal_id"}, required[ToolApproveAutomation])
	assert.Equal(t, []string{"proposal_id"}, required[ToolCreateAutomation])
	assert.Empty(t, required[ToolRejectAutomation])
}
