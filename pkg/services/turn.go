package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/llm"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
)

// ErrPlannerUnavailable is returned by RunTurn when no planner is configured.
var ErrPlannerUnavailable = errors.New("no planner configured")

// TurnRequest is one user message in a conversation.
type TurnRequest struct {
	ConversationID string        `json:"conversation_id"`
	TurnID         string        `json:"turn_id"`
	Message        string        `json:"message"`
	History        []llm.Message `json:"history,omitempty"`
}

// TurnResult is what a turn produced.
type TurnResult struct {
	Reply  string `json:"reply"`
	Rounds int    `json:"rounds"`
	// Final is the terminal outcome that ended the turn, if any.
	Final    *Outcome      `json:"final,omitempty"`
	Outcomes []*Outcome    `json:"outcomes,omitempty"`
	Messages []llm.Message `json:"messages"`
	// Exhausted is set when the round limit ended the turn.
	Exhausted bool `json:"exhausted,omitempty"`
}

// toolArgs is the union of every tool's arguments.
type toolArgs struct {
	Mentions         []string          `json:"mentions,omitempty"`
	CurrentTurnAreas []string          `json:"current_turn_areas,omitempty"`
	HistoryAreas     []string          `json:"history_areas,omitempty"`
	AreaHint         string            `json:"area_hint,omitempty"`
	DomainHint       string            `json:"domain_hint,omitempty"`
	DraftHint        *models.DraftHint `json:"draft_hint,omitempty"`
	ConfirmationFlag bool              `json:"confirmation_flag,omitempty"`
	ProposalID       string            `json:"proposal_id,omitempty"`
	AutomationID     string            `json:"automation_id,omitempty"`
}

var toolActions = map[string]Action{
	llm.ToolProposeAutomation: ActionPropose,
	llm.ToolCreateAutomation:  ActionCreate,
	llm.ToolEditAutomation:    ActionEdit,
	llm.ToolApproveAutomation: ActionApprove,
	llm.ToolRejectAutomation:  ActionReject,
}

type toolResult struct {
	content string
	outcome *Outcome
}

// RunTurn drives the planner for up to MaxRounds rounds. Read-only tool calls
// in a round run concurrently; mutating calls run after them in the order the
// planner issued them. The turn ends when the planner answers without tools
// or a mutating call reaches a terminal outcome.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if o.deps.Planner == nil {
		return nil, ErrPlannerUnavailable
	}
	if req.ConversationID == "" || req.TurnID == "" {
		return nil, invalidIntent("conversation_id and turn_id are required")
	}
	ctx = llm.WithConversationID(ctx, req.ConversationID)

	messages := append([]llm.Message(nil), req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})
	result := &TurnResult{}
	tools := llm.AutomationTools()

	for round := 1; round <= o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Rounds = round

		step, err := o.deps.Planner.Next(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   step.Content,
			ToolCalls: step.ToolCalls,
		})
		result.Reply = step.Content

		if len(step.ToolCalls) == 0 {
			result.Messages = messages
			return result, nil
		}

		results := o.runTools(ctx, req, step.ToolCalls)
		var final *Outcome
		for i, call := range step.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    results[i].content,
				ToolCallID: call.ID,
			})
			if oc := results[i].outcome; oc != nil {
				result.Outcomes = append(result.Outcomes, oc)
				if final == nil && !llm.IsReadOnlyTool(call.Function.Name) && oc.Terminal() {
					final = oc
				}
			}
		}

		if final != nil {
			result.Final = final
			result.Messages = messages
			o.logger.Debug("Turn ended on terminal outcome",
				zap.String("conversation_id", req.ConversationID),
				zap.Int("round", round),
				zap.String("status", string(final.Status)))
			return result, nil
		}
	}

	o.logger.Warn("Turn hit the round limit",
		zap.String("conversation_id", req.ConversationID),
		zap.String("turn_id", req.TurnID),
		zap.Int("max_rounds", o.cfg.MaxRounds))
	result.Exhausted = true
	result.Messages = messages
	return result, nil
}

// runTools executes one round's tool calls and returns results in call order.
func (o *Orchestrator) runTools(ctx context.Context, req TurnRequest, calls []llm.ToolCall) []toolResult {
	results := make([]toolResult, len(calls))

	var items []llm.WorkItem[toolResult]
	var indexes []int
	for i, call := range calls {
		if !llm.IsReadOnlyTool(call.Function.Name) {
			continue
		}
		indexes = append(indexes, i)
		items = append(items, llm.WorkItem[toolResult]{
			ID: call.ID,
			Execute: func(ctx context.Context) (toolResult, error) {
				return o.executeTool(ctx, req, call), nil
			},
		})
	}
	for j, r := range llm.Process(ctx, o.pool, items) {
		if r.Err != nil {
			results[indexes[j]] = errorResult(r.Err, nil)
			continue
		}
		results[indexes[j]] = r.Result
	}

	for i, call := range calls {
		if llm.IsReadOnlyTool(call.Function.Name) {
			continue
		}
		results[i] = o.executeTool(ctx, req, call)
	}
	return results
}

func (o *Orchestrator) executeTool(ctx context.Context, req TurnRequest, call llm.ToolCall) toolResult {
	name := call.Function.Name
	var args toolArgs
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return errorResult(apperrors.Wrap(apperrors.KindInvalidIntent, "tool arguments are not valid JSON", err), nil)
		}
	}

	switch name {
	case llm.ToolResolveEntities:
		res, err := o.Resolve(ctx, resolution.Request{
			Mentions:         args.Mentions,
			CurrentTurnAreas: args.CurrentTurnAreas,
			HistoryAreas:     args.HistoryAreas,
		})
		if err != nil {
			return errorResult(err, nil)
		}
		return jsonResult(res, nil)

	case llm.ToolListInventory:
		inv, err := o.Inventory(ctx, models.InventoryQuery{AreaHint: args.AreaHint, DomainHint: args.DomainHint})
		if err != nil {
			return errorResult(err, nil)
		}
		return jsonResult(inv, nil)

	case llm.ToolValidateAutomation:
		out, _ := o.Validate(ctx, args.DraftHint, args.ConfirmationFlag)
		return jsonResult(out, out)
	}

	action, ok := toolActions[name]
	if !ok {
		return errorResult(invalidIntent("unknown tool %q", name), nil)
	}
	if requiresProposal(action) && strings.TrimSpace(args.ProposalID) == "" {
		return errorResult(invalidIntent("proposal_id is required to %s; pass the proposal_id shown with the preview the user confirmed", action), nil)
	}
	in, err := Envelope{
		TurnID:           req.TurnID,
		ConversationID:   req.ConversationID,
		Action:           action,
		DraftHint:        args.DraftHint,
		ConfirmationFlag: args.ConfirmationFlag,
		ProposalID:       args.ProposalID,
		AutomationID:     args.AutomationID,
	}.Intent()
	if err != nil {
		out := &Outcome{ConversationID: req.ConversationID, TurnID: req.TurnID, Action: action}
		out.fail(err)
		return errorResult(err, out)
	}
	out, _ := o.HandleIntent(ctx, in)
	return jsonResult(out, out)
}

// requiresProposal reports whether a planner tool call must name the preview
// it deploys. The model may not fall back to whatever preview is live.
func requiresProposal(action Action) bool {
	return action == ActionApprove || action == ActionCreate
}

func jsonResult(v any, out *Outcome) toolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("encode tool result: %w", err), out)
	}
	return toolResult{content: string(data), outcome: out}
}

// errorResult renders a failure as {"error": {"kind", "reason"}} for the planner.
func errorResult(err error, out *Outcome) toolResult {
	data, _ := json.Marshal(map[string]any{"error": apperrors.UserFacing(err)})
	return toolResult{content: string(data), outcome: out}
}
