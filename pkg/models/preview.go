package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is the state of a conversation's current draft.
type ConversationState string

const (
	StateDrafting       ConversationState = "drafting"
	StatePendingPreview ConversationState = "pending_preview"
	StateApproved       ConversationState = "approved"
	StateRejected       ConversationState = "rejected"
	StateEdited         ConversationState = "edited"
	StateCreated        ConversationState = "created"
)

// PendingPreview is a draft awaiting explicit user confirmation.
// At most one exists per conversation.
type PendingPreview struct {
	ProposalID     uuid.UUID         `json:"proposal_id"`
	ConversationID string            `json:"conversation_id"`
	TurnID         string            `json:"turn_id,omitempty"`
	Draft          *AutomationDraft  `json:"draft"`
	Report         *ValidationReport `json:"report,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// Expired reports whether the preview has outlived its window at now.
func (p *PendingPreview) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
