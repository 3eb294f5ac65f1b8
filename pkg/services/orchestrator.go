package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/inventory"
	"github.com/ekaya-inc/case-engine/pkg/llm"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/preview"
	"github.com/ekaya-inc/case-engine/pkg/registry"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
	"github.com/ekaya-inc/case-engine/pkg/safety"
)

// Resolver turns mentions and draft hints into verified entities.
type Resolver interface {
	Resolve(ctx context.Context, req resolution.Request) (*resolution.Result, error)
	ResolveDraft(ctx context.Context, hint *models.DraftHint) (*resolution.DraftResolution, error)
	Snapshot(ctx context.Context) (*inventory.Snapshot, error)
}

// SafetyChecker evaluates drafts against the safety rules.
type SafetyChecker interface {
	Check(draft *models.AutomationDraft, opts safety.CheckOptions) *safety.Verdict
}

// DraftValidator runs the validation chain.
type DraftValidator interface {
	Validate(ctx context.Context, draft *models.AutomationDraft, validateEntities bool) (*models.ValidationReport, *models.AutomationDraft)
}

// EventNotifier receives creation events. Notify must not block.
type EventNotifier interface {
	Notify(evt models.CreationEvent) bool
}

// OrchestratorConfig bounds a turn.
type OrchestratorConfig struct {
	MaxRounds       int
	MaxConcurrent   int
	RegistryTimeout time.Duration
}

// DefaultOrchestratorConfig returns 8 rounds, 4 concurrent read-only tools and a 30s registry write.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxRounds:       8,
		MaxConcurrent:   4,
		RegistryTimeout: 30 * time.Second,
	}
}

// OrchestratorDeps are the stages an orchestrator drives. Planner and
// Notifier may be nil.
type OrchestratorDeps struct {
	Resolver  Resolver
	Safety    SafetyChecker
	Validator DraftValidator
	Previews  *preview.Store
	Registry  registry.Registry
	Notifier  EventNotifier
	Planner   llm.Planner
}

// Orchestrator runs intents through resolution, safety, validation, the
// preview state machine and the registry.
type Orchestrator struct {
	deps   OrchestratorDeps
	cfg    OrchestratorConfig
	pool   *llm.WorkerPool
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator. Zero config values take defaults.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	defaults := DefaultOrchestratorConfig()
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.RegistryTimeout <= 0 {
		cfg.RegistryTimeout = defaults.RegistryTimeout
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		pool:   llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.MaxConcurrent}, logger),
		logger: logger.Named("orchestrator"),
	}
}

// Conversation returns a snapshot of a conversation's state.
func (o *Orchestrator) Conversation(conversationID string) (preview.Record, bool) {
	return o.deps.Previews.Get(conversationID)
}

// HandleIntent runs one intent. The returned outcome is never nil; a
// classified failure is returned as the error and mirrored in Outcome.Error.
func (o *Orchestrator) HandleIntent(ctx context.Context, in Intent) (*Outcome, error) {
	meta := in.Meta()
	ctx = llm.WithConversationID(ctx, meta.ConversationID)
	out := &Outcome{
		ConversationID: meta.ConversationID,
		TurnID:         meta.TurnID,
		Action:         in.Action(),
	}

	var err error
	switch in := in.(type) {
	case ProposeIntent:
		err = o.propose(ctx, out, in.Hint, in.Confirmed, in.AutomationID)
	case EditIntent:
		err = o.edit(ctx, out, in)
	case ApproveIntent:
		err = o.create(ctx, out, in.ProposalID, "")
	case CreateIntent:
		err = o.create(ctx, out, in.ProposalID, in.AutomationID)
	case RejectIntent:
		err = o.reject(out, in.ProposalID)
	default:
		err = invalidIntent("unsupported intent %T", in)
	}

	if rec, ok := o.deps.Previews.Get(meta.ConversationID); ok {
		out.State = rec.State
	}
	if err != nil {
		out.fail(err)
		o.logger.Info("Intent did not complete",
			zap.String("conversation_id", meta.ConversationID),
			zap.String("turn_id", meta.TurnID),
			zap.String("action", string(out.Action)),
			zap.String("kind", string(apperrors.KindOf(err))),
			zap.Error(err))
		return out, err
	}

	o.logger.Info("Intent handled",
		zap.String("conversation_id", meta.ConversationID),
		zap.String("turn_id", meta.TurnID),
		zap.String("action", string(out.Action)),
		zap.String("status", string(out.Status)))
	return out, nil
}

// Validate dry-runs resolution, safety and the validation chain for hint
// without touching conversation state.
func (o *Orchestrator) Validate(ctx context.Context, hint *models.DraftHint, confirmed bool) (*Outcome, error) {
	out := &Outcome{Status: StatusValidated}
	if err := checkHint(hint); err != nil {
		out.fail(err)
		return out, err
	}
	if _, err := o.prepare(ctx, out, hint, confirmed, ""); err != nil {
		out.fail(err)
		return out, err
	}
	return out, nil
}

// InventoryView is the filtered inventory returned to tool callers.
type InventoryView struct {
	Entities        []models.InventoryEntity `json:"entities"`
	SnapshotVersion uint64                   `json:"snapshot_version"`
}

// Resolve maps free-text mentions to inventory entities.
func (o *Orchestrator) Resolve(ctx context.Context, req resolution.Request) (*resolution.Result, error) {
	return o.deps.Resolver.Resolve(ctx, req)
}

// Inventory lists the entities of the current snapshot that match query.
func (o *Orchestrator) Inventory(ctx context.Context, query models.InventoryQuery) (*InventoryView, error) {
	snap, err := o.deps.Resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	view := &InventoryView{Entities: []models.InventoryEntity{}, SnapshotVersion: snap.Version}
	for _, e := range snap.Entities() {
		if inventory.Matches(e, query) {
			view.Entities = append(view.Entities, e)
		}
	}
	return view, nil
}

// prepare runs resolution, safety and the chain. Safety always completes
// before the chain sees the draft and is repeated on the chain's output. On success out.Draft holds the validated
// (possibly auto-fixed) draft.
func (o *Orchestrator) prepare(ctx context.Context, out *Outcome, hint *models.DraftHint, confirmed bool, redeployID string) (*models.AutomationDraft, error) {
	dr, err := o.deps.Resolver.ResolveDraft(ctx, hint)
	if dr != nil {
		out.Resolutions = dr.Resolutions
		out.Draft = dr.Draft
	}
	if err != nil {
		return nil, err
	}
	draft := dr.Draft
	draft.Confirmed = confirmed

	deployed, err := o.deps.Registry.List(ctx)
	if err != nil {
		o.logger.Warn("Could not list deployed automations; skipping conflict checks", zap.Error(err))
		deployed = nil
	}

	opts := safety.CheckOptions{
		Deployed:            deployed,
		ExcludeAutomationID: redeployID,
	}
	verdict := o.deps.Safety.Check(draft, opts)
	out.Safety = verdict
	if err := verdict.Err(); err != nil {
		return nil, err
	}

	report, fixed := o.deps.Validator.Validate(ctx, draft, true)
	out.Report = report
	out.Draft = fixed
	out.Degraded = report.Degraded
	if !report.Valid {
		return nil, apperrors.New(apperrors.KindValidationFailed, validationReason(report))
	}

	// Stages may rewrite the draft, so the rules run again on what would be deployed.
	verdict = o.deps.Safety.Check(fixed, opts)
	out.Safety = verdict
	if err := verdict.Err(); err != nil {
		o.logger.Warn("Validated draft rejected by safety rules",
			zap.String("conversation_id", out.ConversationID),
			zap.String("kind", string(apperrors.KindOf(err))))
		return nil, err
	}
	return fixed, nil
}

func validationReason(report *models.ValidationReport) string {
	if len(report.Errors) == 0 {
		return "the automation did not pass validation"
	}
	return fmt.Sprintf("the automation did not pass validation: %s", report.Errors[0])
}

// propose builds and previews a draft. A non-empty replacesID names the
// automation the draft is meant to redeploy over; it is left out of conflict checks.
func (o *Orchestrator) propose(ctx context.Context, out *Outcome, hint *models.DraftHint, confirmed bool, replacesID string) error {
	draft, err := o.prepare(ctx, out, hint, confirmed, replacesID)
	if err != nil {
		return err
	}

	return o.deps.Previews.Do(out.ConversationID, func(r *preview.Record) error {
		p := r.Propose(out.TurnID, draft, out.Report)
		out.Preview = p
		out.Status = StatusAwaitingConfirmation
		return nil
	})
}

func (o *Orchestrator) edit(ctx context.Context, out *Outcome, in EditIntent) error {
	err := o.deps.Previews.Do(out.ConversationID, func(r *preview.Record) error {
		if in.ProposalID != uuid.Nil && (r.Preview == nil || r.Preview.ProposalID != in.ProposalID) {
			return apperrors.New(apperrors.KindStaleApproval, "the preview you are editing has been replaced; review the latest preview")
		}
		out.Draft = r.Edit()
		out.Status = StatusDrafting
		return nil
	})
	if err != nil || in.Hint == nil {
		return err
	}
	return o.propose(ctx, out, in.Hint, in.Confirmed, in.AutomationID)
}

// create approves the live preview and writes it to the registry. An empty
// redeployID always mints a new automation. The write happens under the
// conversation lock and is never retried.
func (o *Orchestrator) create(ctx context.Context, out *Outcome, proposalID uuid.UUID, redeployID string) error {
	var created *models.AutomationDraft
	err := o.deps.Previews.Do(out.ConversationID, func(r *preview.Record) error {
		p, err := r.Approve(proposalID)
		if err != nil {
			return err
		}
		out.Preview = p

		writeCtx, cancel := context.WithTimeout(ctx, o.cfg.RegistryTimeout)
		defer cancel()

		forceNew := redeployID == ""
		res, err := o.deps.Registry.Create(writeCtx, p.Draft, forceNew, redeployID)
		if err != nil {
			r.Restore()
			if apperrors.KindOf(err) == apperrors.KindInternal {
				err = apperrors.Wrap(apperrors.KindRegistryWriteFailed, "the automation registry did not accept the write", err)
			}
			return err
		}

		r.MarkCreated(res.AutomationID)
		out.Automation = res
		out.Draft = p.Draft
		created = p.Draft
		if forceNew {
			out.Status = StatusCreated
		} else {
			out.Status = StatusRedeployed
		}
		return nil
	})
	if err != nil {
		return err
	}

	if out.Status == StatusCreated && o.deps.Notifier != nil {
		o.deps.Notifier.Notify(models.CreationEvent{
			AutomationID: out.Automation.AutomationID,
			Alias:        created.Alias,
			EntityCount:  len(created.EntityIDs()),
			CreatedAt:    time.Now().UTC(),
		})
	}
	return nil
}

func (o *Orchestrator) reject(out *Outcome, proposalID uuid.UUID) error {
	return o.deps.Previews.Do(out.ConversationID, func(r *preview.Record) error {
		p, err := r.Reject(proposalID)
		if err != nil {
			return err
		}
		out.Preview = p
		out.Status = StatusRejected
		return nil
	})
}
