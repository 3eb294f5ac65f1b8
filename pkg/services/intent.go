package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Action is the verb of an inbound intent.
type Action string

const (
	ActionPropose Action = "propose"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Envelope is the inbound intent as it arrives on the wire.
type Envelope struct {
	TurnID           string            `json:"turn_id"`
	ConversationID   string            `json:"conversation_id"`
	Action           Action            `json:"action"`
	DraftHint        *models.DraftHint `json:"draft_hint,omitempty"`
	ConfirmationFlag bool              `json:"confirmation_flag,omitempty"`
	ProposalID       string            `json:"proposal_id,omitempty"`
	AutomationID     string            `json:"automation_id,omitempty"`
}

// Intent is one of ProposeIntent, CreateIntent, EditIntent, ApproveIntent or
// RejectIntent. The set is closed.
type Intent interface {
	Meta() IntentMeta
	Action() Action
	intent()
}

// IntentMeta identifies the turn an intent belongs to.
type IntentMeta struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
}

// Meta returns the turn identifiers.
func (m IntentMeta) Meta() IntentMeta { return m }

// ProposeIntent builds a draft and shows it as a preview. AutomationID names
// the automation the draft will be redeployed over, if any; the draft is not
// reported as conflicting with it.
type ProposeIntent struct {
	IntentMeta
	Hint         *models.DraftHint
	Confirmed    bool
	AutomationID string
}

// CreateIntent writes the live preview to the registry. A non-empty
// AutomationID redeploys that automation instead of creating a new one.
type CreateIntent struct {
	IntentMeta
	ProposalID   uuid.UUID
	AutomationID string
}

// EditIntent discards the live preview. With a Hint it immediately proposes
// the revision, with AutomationID as in ProposeIntent.
type EditIntent struct {
	IntentMeta
	ProposalID   uuid.UUID
	Hint         *models.DraftHint
	Confirmed    bool
	AutomationID string
}

// ApproveIntent approves the live preview and creates a new automation.
type ApproveIntent struct {
	IntentMeta
	ProposalID uuid.UUID
}

// RejectIntent discards the live preview.
type RejectIntent struct {
	IntentMeta
	ProposalID uuid.UUID
}

func (ProposeIntent) Action() Action { return ActionPropose }
func (CreateIntent) Action() Action  { return ActionCreate }
func (EditIntent) Action() Action    { return ActionEdit }
func (ApproveIntent) Action() Action { return ActionApprove }
func (RejectIntent) Action() Action  { return ActionReject }

func (ProposeIntent) intent() {}
func (CreateIntent) intent()  {}
func (EditIntent) intent()    {}
func (ApproveIntent) intent() {}
func (RejectIntent) intent()  {}

func invalidIntent(format string, args ...any) error {
	return apperrors.New(apperrors.KindInvalidIntent, fmt.Sprintf(format, args...))
}

// DecodeIntent parses and validates an inbound intent. Unknown fields are rejected.
func DecodeIntent(data []byte) (Intent, error) {
	env, err := DecodeEnvelope(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return env.Intent()
}

// DecodeEnvelope parses an intent without validating it.
func DecodeEnvelope(r io.Reader) (Envelope, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, apperrors.Wrap(apperrors.KindInvalidIntent, "intent is not valid JSON", err)
	}
	return env, nil
}

// Intent validates the envelope and converts it to its variant.
func (e Envelope) Intent() (Intent, error) {
	meta := IntentMeta{
		TurnID:         strings.TrimSpace(e.TurnID),
		ConversationID: strings.TrimSpace(e.ConversationID),
	}
	if meta.ConversationID == "" {
		return nil, invalidIntent("conversation_id is required")
	}
	if meta.TurnID == "" {
		return nil, invalidIntent("turn_id is required")
	}

	proposalID, err := parseProposalID(e.ProposalID)
	if err != nil {
		return nil, err
	}
	automationID := strings.TrimSpace(e.AutomationID)

	switch e.Action {
	case ActionPropose:
		if err := checkHint(e.DraftHint); err != nil {
			return nil, err
		}
		return ProposeIntent{IntentMeta: meta, Hint: e.DraftHint, Confirmed: e.ConfirmationFlag, AutomationID: automationID}, nil
	case ActionCreate:
		return CreateIntent{IntentMeta: meta, ProposalID: proposalID, AutomationID: automationID}, nil
	case ActionEdit:
		if e.DraftHint != nil {
			if err := checkHint(e.DraftHint); err != nil {
				return nil, err
			}
		}
		if e.DraftHint == nil && automationID != "" {
			return nil, invalidIntent("automation_id on edit needs a draft_hint to propose")
		}
		return EditIntent{
			IntentMeta:   meta,
			ProposalID:   proposalID,
			Hint:         e.DraftHint,
			Confirmed:    e.ConfirmationFlag,
			AutomationID: automationID,
		}, nil
	case ActionApprove:
		if automationID != "" {
			return nil, invalidIntent("approve always creates a new automation; use create with automation_id to redeploy")
		}
		return ApproveIntent{IntentMeta: meta, ProposalID: proposalID}, nil
	case ActionReject:
		return RejectIntent{IntentMeta: meta, ProposalID: proposalID}, nil
	case "":
		return nil, invalidIntent("action is required")
	default:
		return nil, invalidIntent("unknown action %q", e.Action)
	}
}

func parseProposalID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalidIntent("proposal_id %q is not a valid id", s)
	}
	return id, nil
}

func checkHint(h *models.DraftHint) error {
	if h == nil {
		return invalidIntent("draft_hint is required")
	}
	if strings.TrimSpace(h.Alias) == "" {
		return invalidIntent("draft_hint.alias is required")
	}
	if len(h.Actions) == 0 {
		return invalidIntent("draft_hint needs at least one action")
	}
	return nil
}
