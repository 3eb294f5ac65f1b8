package models

import (
	"time"

	"github.com/google/uuid"
)

// Automation modes.
const (
	ModeSingle   = "single"
	ModeRestart  = "restart"
	ModeQueued   = "queued"
	ModeParallel = "parallel"
)

// Trigger platforms understood by the local structural validator.
const (
	PlatformState = "state"
	PlatformTime  = "time"
	PlatformSun   = "sun"
	PlatformEvent = "event"
)

// Trigger starts an automation. Targets hold free-text mentions from the
// planner; EntityIDs hold the resolved identifiers.
type Trigger struct {
	Platform  string   `json:"platform" yaml:"platform"`
	Targets   []string `json:"targets,omitempty" yaml:"-"`
	EntityIDs []string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	To        string   `json:"to,omitempty" yaml:"to,omitempty"`
	From      string   `json:"from,omitempty" yaml:"from,omitempty"`
	At        string   `json:"at,omitempty" yaml:"at,omitempty"`
	Event     string   `json:"event,omitempty" yaml:"event,omitempty"`
}

// Condition gates an automation run.
type Condition struct {
	Condition string   `json:"condition" yaml:"condition"`
	Targets   []string `json:"targets,omitempty" yaml:"-"`
	EntityIDs []string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	State     string   `json:"state,omitempty" yaml:"state,omitempty"`
	After     string   `json:"after,omitempty" yaml:"after,omitempty"`
	Before    string   `json:"before,omitempty" yaml:"before,omitempty"`
}

// Action is a service call. Service is "domain.operation", e.g. "light.turn_on".
type Action struct {
	Service   string         `json:"service" yaml:"service"`
	Targets   []string       `json:"targets,omitempty" yaml:"-"`
	EntityIDs []string       `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// AutomationDraft is a proposed automation configuration.
// Validators may replace it with an auto-fixed copy; the audit trail records each report.
type AutomationDraft struct {
	ID          uuid.UUID          `json:"id" yaml:"-"`
	Alias       string             `json:"alias" yaml:"alias"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Mode        string             `json:"mode,omitempty" yaml:"mode,omitempty"`
	Triggers    []Trigger          `json:"triggers" yaml:"trigger"`
	Conditions  []Condition        `json:"conditions,omitempty" yaml:"condition,omitempty"`
	Actions     []Action           `json:"actions" yaml:"action"`
	Entities    []ResolvedEntity   `json:"entities,omitempty" yaml:"-"`
	Confirmed   bool               `json:"confirmed,omitempty" yaml:"-"`
	AuditTrail  []ValidationReport `json:"audit_trail,omitempty" yaml:"-"`
}

// Clone returns a deep copy so validators never mutate a draft another stage holds.
func (d *AutomationDraft) Clone() *AutomationDraft {
	if d == nil {
		return nil
	}
	c := *d
	c.Triggers = make([]Trigger, len(d.Triggers))
	for i, t := range d.Triggers {
		t.Targets = append([]string(nil), t.Targets...)
		t.EntityIDs = append([]string(nil), t.EntityIDs...)
		c.Triggers[i] = t
	}
	c.Conditions = make([]Condition, len(d.Conditions))
	for i, cond := range d.Conditions {
		cond.Targets = append([]string(nil), cond.Targets...)
		cond.EntityIDs = append([]string(nil), cond.EntityIDs...)
		c.Conditions[i] = cond
	}
	c.Actions = make([]Action, len(d.Actions))
	for i, a := range d.Actions {
		a.Targets = append([]string(nil), a.Targets...)
		a.EntityIDs = append([]string(nil), a.EntityIDs...)
		if a.Data != nil {
			data := make(map[string]any, len(a.Data))
			for k, v := range a.Data {
				data[k] = v
			}
			a.Data = data
		}
		c.Actions[i] = a
	}
	c.Entities = append([]ResolvedEntity(nil), d.Entities...)
	c.AuditTrail = append([]ValidationReport(nil), d.AuditTrail...)
	return &c
}

// EntityIDs returns every entity id referenced by triggers, conditions and
// actions, in first-seen order.
func (d *AutomationDraft) EntityIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(list []string) {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, t := range d.Triggers {
		add(t.EntityIDs)
	}
	for _, c := range d.Conditions {
		add(c.EntityIDs)
	}
	for _, a := range d.Actions {
		add(a.EntityIDs)
	}
	return ids
}

// Entity returns the attached resolved entity with the given id.
func (d *AutomationDraft) Entity(entityID string) (*ResolvedEntity, bool) {
	for i := range d.Entities {
		if d.Entities[i].EntityID == entityID {
			return &d.Entities[i], true
		}
	}
	return nil, false
}

// DraftHint is the partial automation supplied by the planner. Targets are
// mentions that still need resolution.
type DraftHint struct {
	Alias       string      `json:"alias"`
	Description string      `json:"description,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	Triggers    []Trigger   `json:"triggers,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action    `json:"actions,omitempty"`
	// CurrentTurnAreas lists areas the user named in this turn.
	CurrentTurnAreas []string `json:"current_turn_areas,omitempty"`
	// HistoryAreas lists areas carried over from earlier turns.
	HistoryAreas []string `json:"history_areas,omitempty"`
}

// DeployedAutomation is an automation created in the registry.
type DeployedAutomation struct {
	AutomationID string           `json:"automation_id"`
	Alias        string           `json:"alias"`
	Version      int              `json:"version"`
	DraftID      uuid.UUID        `json:"draft_id"`
	Draft        *AutomationDraft `json:"draft,omitempty"`
	EntityIDs    []string         `json:"entity_ids"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// CreationEvent is the best-effort notification published after creation.
type CreationEvent struct {
	AutomationID string    `json:"automation_id"`
	Alias        string    `json:"alias"`
	EntityCount  int       `json:"entity_count"`
	CreatedAt    time.Time `json:"created_at"`
}
