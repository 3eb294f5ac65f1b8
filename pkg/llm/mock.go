package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedPlanner replays a fixed sequence of plan steps. Each call to Next
// returns the next step and records the messages it was given.
type ScriptedPlanner struct {
	mu    sync.Mutex
	Steps []PlanStep
	// Seen holds a copy of the messages passed to each Next call.
	Seen [][]Message
}

var _ Planner = (*ScriptedPlanner)(nil)

// NewScriptedPlanner creates a planner that returns steps in order.
func NewScriptedPlanner(steps ...PlanStep) *ScriptedPlanner {
	return &ScriptedPlanner{Steps: steps}
}

// Next implements Planner.
func (p *ScriptedPlanner) Next(ctx context.Context, messages []Message, tools []ToolDefinition) (*PlanStep, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Seen = append(p.Seen, append([]Message(nil), messages...))
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("scripted planner exhausted after %d calls", len(p.Seen)-1)
	}
	step := p.Steps[0]
	p.Steps = p.Steps[1:]
	return &step, nil
}

// Calls returns how many times Next was invoked.
func (p *ScriptedPlanner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Seen)
}

// MockChatCompleter is a configurable ChatCompleter for tests.
type MockChatCompleter struct {
	ChatWithToolsFunc func(ctx context.Context, messages []Message, tools []ToolDefinition, temperature float64) (*ChatResult, error)
	Calls             int
}

// ChatWithTools implements ChatCompleter.
func (m *MockChatCompleter) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, temperature float64) (*ChatResult, error) {
	m.Calls++
	if m.ChatWithToolsFunc != nil {
		return m.ChatWithToolsFunc(ctx, messages, tools, temperature)
	}
	return &ChatResult{}, nil
}

// MockEmbeddingCreator is a configurable EmbeddingCreator for tests.
type MockEmbeddingCreator struct {
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)
	Calls                int
}

// CreateEmbeddings implements EmbeddingCreator.
func (m *MockEmbeddingCreator) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.Calls++
	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs, model)
	}
	return nil, nil
}
