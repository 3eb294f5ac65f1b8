package safety

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

// Violation is a single safety finding that blocks a draft.
type Violation struct {
	Kind     apperrors.Kind `json:"kind"`
	EntityID string         `json:"entity_id,omitempty"`
	Service  string         `json:"service,omitempty"`
	Reason   string         `json:"reason"`
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Allowed    bool            `json:"allowed"`
	Violations []Violation     `json:"violations,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
	MaxTier    models.RiskTier `json:"max_tier"`
}

// RequiresConfirmation reports whether the only blocking findings are
// missing confirmations, so the user can confirm and retry.
func (v *Verdict) RequiresConfirmation() bool {
	if len(v.Violations) == 0 {
		return false
	}
	for _, viol := range v.Violations {
		if viol.Kind != apperrors.KindRequiresConfirmation {
			return false
		}
	}
	return true
}

// Err converts a blocking verdict into a classified error. Unsafe actions take
// precedence over missing confirmations.
func (v *Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	kind := apperrors.KindRequiresConfirmation
	var reasons []string
	for _, viol := range v.Violations {
		if viol.Kind == apperrors.KindUnsafeAction && kind != apperrors.KindUnsafeAction {
			kind = apperrors.KindUnsafeAction
			reasons = reasons[:0]
		}
		if viol.Kind == kind {
			reasons = append(reasons, viol.Reason)
		}
	}
	return apperrors.New(kind, strings.Join(reasons, "; "))
}

// CheckOptions carries the context a check runs against.
type CheckOptions struct {
	// Deployed automations are compared for trigger/entity conflicts.
	Deployed []models.DeployedAutomation
	// ExcludeAutomationID skips the automation being redeployed.
	ExcludeAutomationID string
}

// Validator applies the safety rules to drafts.
type Validator struct {
	rules  *Rules
	logger *zap.Logger
}

// NewValidator creates a validator for the compiled rules.
func NewValidator(rules *Rules, logger *zap.Logger) *Validator {
	return &Validator{
		rules:  rules,
		logger: logger.Named("safety"),
	}
}

// Rules returns the compiled rules, e.g. for risk classification during resolution.
func (v *Validator) Rules() *Rules {
	return v.rules
}

// Check evaluates a draft. It never mutates the draft.
func (v *Validator) Check(draft *models.AutomationDraft, opts CheckOptions) *Verdict {
	verdict := &Verdict{MaxTier: models.RiskLow}

	for _, id := range draft.EntityIDs() {
		entity, ok := draft.Entity(id)
		switch {
		case !ok:
			verdict.Violations = append(verdict.Violations, Violation{
				Kind: apperrors.KindUnsafeAction, EntityID: id,
				Reason: fmt.Sprintf("%s was not resolved against the device inventory", id),
			})
		case !entity.Verified:
			verdict.Violations = append(verdict.Violations, Violation{
				Kind: apperrors.KindUnsafeAction, EntityID: id,
				Reason: fmt.Sprintf("%s is not present in the live device inventory", id),
			})
		case !validTier(entity.RiskTier):
			verdict.Violations = append(verdict.Violations, Violation{
				Kind: apperrors.KindUnsafeAction, EntityID: id,
				Reason: fmt.Sprintf("%s has no risk classification", id),
			})
		default:
			if entity.RiskTier.Rank() > verdict.MaxTier.Rank() {
				verdict.MaxTier = entity.RiskTier
			}
		}
	}

	for _, action := range draft.Actions {
		if pattern, denied := v.rules.Denied(action.Service); denied {
			v.logger.Warn("Denied service in draft",
				zap.String("service", action.Service),
				zap.String("pattern", pattern))
			verdict.Violations = append(verdict.Violations, Violation{
				Kind: apperrors.KindUnsafeAction, Service: action.Service,
				Reason: fmt.Sprintf("service %s is not allowed in automations", action.Service),
			})
			continue
		}
		if draft.Confirmed {
			continue
		}
		if v.rules.IsCriticalService(action.Service) {
			verdict.Violations = append(verdict.Violations, Violation{
				Kind: apperrors.KindRequiresConfirmation, Service: action.Service,
				Reason: fmt.Sprintf("%s needs your explicit confirmation", action.Service),
			})
			continue
		}
		for _, id := range action.EntityIDs {
			if entity, ok := draft.Entity(id); ok && entity.RiskTier == models.RiskCritical {
				verdict.Violations = append(verdict.Violations, Violation{
					Kind: apperrors.KindRequiresConfirmation, EntityID: id, Service: action.Service,
					Reason: fmt.Sprintf("%s controls %s, which needs your explicit confirmation", action.Service, entity.FriendlyName),
				})
			}
		}
	}

	verdict.Warnings = conflictWarnings(draft, opts)
	verdict.Allowed = len(verdict.Violations) == 0
	return verdict
}

// conflictWarnings reports deployed automations that act on the same entity
// as the draft and fire on an overlapping trigger.
func conflictWarnings(draft *models.AutomationDraft, opts CheckOptions) []string {
	draftTargets := actionEntities(draft)
	var warnings []string
	for _, deployed := range opts.Deployed {
		if deployed.AutomationID == opts.ExcludeAutomationID || deployed.Draft == nil {
			continue
		}
		shared := intersect(draftTargets, actionEntities(deployed.Draft))
		if len(shared) == 0 || !triggersOverlap(draft.Triggers, deployed.Draft.Triggers) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf(
			"automation %q also controls %s on an overlapping trigger",
			deployed.Alias, strings.Join(shared, ", ")))
	}
	return warnings
}

func actionEntities(d *models.AutomationDraft) map[string]bool {
	out := make(map[string]bool)
	for _, a := range d.Actions {
		for _, id := range a.EntityIDs {
			out[id] = true
		}
	}
	return out
}

func intersect(a, b map[string]bool) []string {
	var out []string
	for id := range a {
		if b[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func triggersOverlap(a, b []models.Trigger) bool {
	for _, ta := range a {
		for _, tb := range b {
			if triggerOverlap(ta, tb) {
				return true
			}
		}
	}
	return false
}

func triggerOverlap(a, b models.Trigger) bool {
	if !strings.EqualFold(a.Platform, b.Platform) {
		return false
	}
	switch strings.ToLower(a.Platform) {
	case models.PlatformTime:
		return a.At != "" && a.At == b.At
	case models.PlatformSun, models.PlatformEvent:
		return strings.EqualFold(a.Event, b.Event)
	case models.PlatformState:
		for _, ida := range a.EntityIDs {
			for _, idb := range b.EntityIDs {
				if ida == idb && (a.To == "" || b.To == "" || a.To == b.To) {
					return true
				}
			}
		}
	}
	return false
}
