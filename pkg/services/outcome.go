package services

import (
	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
	"github.com/ekaya-inc/case-engine/pkg/preview"
	"github.com/ekaya-inc/case-engine/pkg/registry"
	"github.com/ekaya-inc/case-engine/pkg/safety"
)

// Status summarizes what an intent achieved.
type Status string

const (
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCreated              Status = "created"
	StatusRedeployed           Status = "redeployed"
	StatusRejected             Status = "rejected"
	StatusDrafting             Status = "drafting"
	StatusValidated            Status = "validated"
	StatusNeedsClarification   Status = "needs_clarification"
	StatusNeedsConfirmation    Status = "needs_confirmation"
	StatusValidationFailed     Status = "validation_failed"
	StatusFailed               Status = "failed"
)

// Outcome is the result of one intent.
type Outcome struct {
	ConversationID string                   `json:"conversation_id,omitempty"`
	TurnID         string                   `json:"turn_id,omitempty"`
	Action         Action                   `json:"action,omitempty"`
	Status         Status                   `json:"status"`
	State          models.ConversationState `json:"state,omitempty"`
	Preview        *models.PendingPreview   `json:"preview,omitempty"`
	Draft          *models.AutomationDraft  `json:"draft,omitempty"`
	Report         *models.ValidationReport `json:"report,omitempty"`
	Degraded       bool                     `json:"degraded,omitempty"`
	Safety         *safety.Verdict          `json:"safety,omitempty"`
	Resolutions    []models.Resolution      `json:"resolutions,omitempty"`
	Automation     *registry.Result         `json:"automation,omitempty"`
	Error          *apperrors.UserFailure   `json:"error,omitempty"`
}

func (o *Outcome) fail(err error) {
	o.Error = apperrors.UserFacing(err)
	switch apperrors.KindOf(err) {
	case apperrors.KindAmbiguousReference, apperrors.KindUnresolvedReference:
		o.Status = StatusNeedsClarification
	case apperrors.KindRequiresConfirmation:
		o.Status = StatusNeedsConfirmation
	case apperrors.KindValidationFailed:
		o.Status = StatusValidationFailed
	default:
		o.Status = StatusFailed
	}
}

// Terminal reports whether the turn should stop and wait for the user.
// Validation failures, drafting after an edit and dry runs are fed back to
// the planner instead.
func (o *Outcome) Terminal() bool {
	switch o.Status {
	case StatusValidationFailed, StatusDrafting, StatusValidated:
		return false
	case StatusFailed:
		return o.Error == nil || o.Error.Kind != apperrors.KindInvalidIntent
	}
	return true
}

// PreviewView is the read model served for a conversation.
type PreviewView struct {
	ConversationID string                   `json:"conversation_id"`
	State          models.ConversationState `json:"state"`
	Preview        *models.PendingPreview   `json:"preview,omitempty"`
	CreatedIDs     []string                 `json:"created_ids,omitempty"`
}

// NewPreviewView converts a state record to its read model.
func NewPreviewView(r preview.Record) PreviewView {
	return PreviewView{
		ConversationID: r.ConversationID,
		State:          r.State,
		Preview:        r.Preview,
		CreatedIDs:     r.CreatedIDs,
	}
}
