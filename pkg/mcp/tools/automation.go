package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
	"github.com/ekaya-inc/case-engine/pkg/services"
)

// Orchestrator is the slice of services.Orchestrator the tools drive.
type Orchestrator interface {
	HandleIntent(ctx context.Context, in services.Intent) (*services.Outcome, error)
	Validate(ctx context.Context, hint *models.DraftHint, confirmed bool) (*services.Outcome, error)
	Resolve(ctx context.Context, req resolution.Request) (*resolution.Result, error)
	Inventory(ctx context.Context, query models.InventoryQuery) (*services.InventoryView, error)
}

// AutomationToolDeps contains dependencies for the automation tools.
type AutomationToolDeps struct {
	Orchestrator Orchestrator
	Logger       *zap.Logger
}

// RegisterAutomationTools registers the intent and lookup tools.
func RegisterAutomationTools(s *server.MCPServer, deps *AutomationToolDeps) {
	registerIntentTool(s, deps, intentTool{
		name:   "propose_automation",
		action: services.ActionPropose,
		description: "Build an automation from a draft and show it as a preview for the user to confirm. " +
			"Devices may be referenced in free text through targets. Nothing is deployed until the user approves. " +
			"Pass automation_id when the draft revises an existing automation that will be redeployed.",
		withHint:         true,
		hintRequired:     true,
		withConfirmation: true,
		withTarget:       true,
	})
	registerIntentTool(s, deps, intentTool{
		name:   "approve_automation",
		action: services.ActionApprove,
		description: "Approve the pending preview and deploy it as a new automation. " +
			"Pass the proposal_id shown with the preview so a replaced preview is never approved by mistake.",
		withProposal: true,
	})
	registerIntentTool(s, deps, intentTool{
		name:         "create_automation",
		action:       services.ActionCreate,
		description:  "Deploy the pending preview. Same as approve_automation unless automation_id names an automation to redeploy.",
		withProposal: true,
		withTarget:   true,
	})
	registerIntentTool(s, deps, intentTool{
		name:           "redeploy_automation",
		action:         services.ActionCreate,
		description:    "Deploy the pending preview over an existing automation, bumping its version.",
		withProposal:   true,
		withTarget:     true,
		targetRequired: true,
	})
	registerIntentTool(s, deps, intentTool{
		name:             "edit_automation",
		action:           services.ActionEdit,
		description:      "Discard the pending preview to revise it. With a draft_hint the revision is proposed immediately.",
		withProposal:     true,
		withHint:         true,
		withConfirmation: true,
		withTarget:       true,
	})
	registerIntentTool(s, deps, intentTool{
		name:         "reject_automation",
		action:       services.ActionReject,
		description:  "Discard the pending preview without deploying anything.",
		withProposal: true,
	})
	registerValidateTool(s, deps)
	registerResolveEntitiesTool(s, deps)
	registerListInventoryTool(s, deps)
}

type intentTool struct {
	name             string
	action           services.Action
	description      string
	withHint         bool
	hintRequired     bool
	withConfirmation bool
	withProposal     bool
	withTarget       bool
	targetRequired   bool
}

func (t intentTool) options() []mcp.ToolOption {
	opts := []mcp.ToolOption{
		mcp.WithDescription(t.description),
		mcp.WithString(
			"conversation_id",
			mcp.Required(),
			mcp.Description("The conversation this intent belongs to"),
		),
		mcp.WithString(
			"turn_id",
			mcp.Description("Identifier of the user turn; generated when omitted"),
		),
	}
	if t.withHint {
		hint := []mcp.PropertyOption{mcp.Description("The automation to build: alias, triggers, conditions, actions")}
		if t.hintRequired {
			hint = append(hint, mcp.Required())
		}
		opts = append(opts, mcp.WithObject("draft_hint", hint...))
	}
	if t.withConfirmation {
		opts = append(opts, mcp.WithBoolean(
			"confirmation_flag",
			mcp.Description("Set only after the user explicitly confirmed high-risk actions such as unlocking a door"),
		))
	}
	if t.withProposal {
		opts = append(opts, mcp.WithString(
			"proposal_id",
			mcp.Description("The proposal_id of the preview being answered"),
		))
	}
	if t.withTarget {
		target := []mcp.PropertyOption{mcp.Description("Existing automation to redeploy")}
		if t.targetRequired {
			target = append(target, mcp.Required())
		}
		opts = append(opts, mcp.WithString("automation_id", target...))
	}
	return append(opts,
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(t.action == services.ActionCreate),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func registerIntentTool(s *server.MCPServer, deps *AutomationToolDeps, t intentTool) {
	s.AddTool(mcp.NewTool(t.name, t.options()...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		env := services.Envelope{
			TurnID:           getOptionalString(req, "turn_id"),
			ConversationID:   trimString(conversationID),
			Action:           t.action,
			ConfirmationFlag: getOptionalBool(req, "confirmation_flag"),
			ProposalID:       getOptionalString(req, "proposal_id"),
			AutomationID:     getOptionalString(req, "automation_id"),
		}
		if env.TurnID == "" {
			env.TurnID = uuid.NewString()
		}
		if t.targetRequired && env.AutomationID == "" {
			return NewErrorResult("invalid_parameters", "automation_id is required"), nil
		}
		if t.withHint {
			var hint models.DraftHint
			if err := decodeObject(req, "draft_hint", &hint); err != nil {
				return NewErrorResult("invalid_parameters", err.Error()), nil
			}
			if _, ok := arguments(req)["draft_hint"]; ok {
				env.DraftHint = &hint
			}
		}

		in, err := env.Intent()
		if err != nil {
			return NewFailureResult(err, nil), nil
		}

		out, err := deps.Orchestrator.HandleIntent(ctx, in)
		if IsSystemError(err) {
			return nil, fmt.Errorf("%s failed: %w", t.name, err)
		}
		if err != nil {
			deps.Logger.Debug("Intent returned a failure",
				zap.String("tool", t.name),
				zap.String("conversation_id", env.ConversationID),
				zap.String("status", string(out.Status)))
			return NewFailureResult(err, out), nil
		}
		return jsonResult(out)
	})
}

func registerValidateTool(s *server.MCPServer, deps *AutomationToolDeps) {
	tool := mcp.NewTool(
		"validate_automation",
		mcp.WithDescription(
			"Dry-run resolution, safety checks and validation for a draft without creating a preview. "+
				"Use it to check a draft before proposing it.",
		),
		mcp.WithObject("draft_hint", mcp.Required(), mcp.Description("The automation to check")),
		mcp.WithBoolean("confirmation_flag", mcp.Description("Whether the user confirmed high-risk actions")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var hint models.DraftHint
		if err := decodeObject(req, "draft_hint", &hint); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		out, err := deps.Orchestrator.Validate(ctx, &hint, getOptionalBool(req, "confirmation_flag"))
		if IsSystemError(err) {
			return nil, fmt.Errorf("validate_automation failed: %w", err)
		}
		if err != nil {
			return NewFailureResult(err, out), nil
		}
		return jsonResult(out)
	})
}
