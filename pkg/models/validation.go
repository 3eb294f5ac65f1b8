package models

import "time"

// ValidationReport is the result of one validation stage, or of the whole
// chain when Stage is "chain".
type ValidationReport struct {
	Stage    string   `json:"stage"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Score    int      `json:"score"` // 0-100
	// FixedDraft is set when the stage produced an auto-corrected draft.
	FixedDraft *AutomationDraft `json:"fixed_draft,omitempty"`

	// Chain-level annotations.
	Degraded       bool      `json:"degraded,omitempty"`
	ExecutedStages []string  `json:"executed_stages,omitempty"`
	SkippedStages  []string  `json:"skipped_stages,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
