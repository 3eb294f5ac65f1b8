package validation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

func validDraft() *models.AutomationDraft {
	return &models.AutomationDraft{
		ID:       uuid.New(),
		Alias:    "Porch Light Routine",
		Mode:     models.ModeSingle,
		Triggers: []models.Trigger{{Platform: models.PlatformSun, Event: "sunset"}},
		Actions:  []models.Action{{Service: "light.turn_on", EntityIDs: []string{"light.porch"}}},
		Entities: []models.ResolvedEntity{
			{EntityID: "light.porch", Domain: "light", Verified: true, RiskTier: models.RiskLow},
		},
	}
}

func TestCheckStructure_ValidDraft(t *testing.T) {
	report := CheckStructure(validDraft(), true)

	assert.True(t, report.Valid)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Nil(t, report.FixedDraft, "nothing to fix")
	assert.Equal(t, LocalStageName, report.Stage)
}

func TestCheckStructure_AutoFixes(t *testing.T) {
	draft := validDraft()
	draft.Alias = "  Porch   Light  Routine "
	draft.Mode = ""
	draft.Triggers = []models.Trigger{{Platform: "Time", At: "7:05"}}
	draft.Actions = []models.Action{{Service: " Light.Turn_On ", EntityIDs: []string{"light.porch", "Light.Porch"}}}

	report := CheckStructure(draft, true)
	require.True(t, report.Valid, report.Errors)
	require.NotNil(t, report.FixedDraft)

	fixed := report.FixedDraft
	assert.Equal(t, "Porch Light Routine", fixed.Alias)
	assert.Equal(t, models.ModeSingle, fixed.Mode)
	assert.Equal(t, "time", fixed.Triggers[0].Platform)
	assert.Equal(t, "07:05:00", fixed.Triggers[0].At)
	assert.Equal(t, "light.turn_on", fixed.Actions[0].Service)
	assert.Equal(t, []string{"light.porch"}, fixed.Actions[0].EntityIDs)
	assert.Equal(t, draft.ID, fixed.ID)

	// The input is never mutated.
	assert.Equal(t, " Light.Turn_On ", draft.Actions[0].Service)
}

func TestCheckStructure_Errors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *models.AutomationDraft)
		entities  bool
		wantError string
	}{
		{"missing alias", func(d *models.AutomationDraft) { d.Alias = "  " }, false, "alias is required"},
		{"no triggers", func(d *models.AutomationDraft) { d.Triggers = nil }, false, "at least one trigger is required"},
		{"no actions", func(d *models.AutomationDraft) { d.Actions = nil }, false, "at least one action is required"},
		{"malformed service", func(d *models.AutomationDraft) { d.Actions[0].Service = "turn on lights" }, false, `action 1: service "turn on lights" is not of the form domain.operation`},
		{"time out of range", func(d *models.AutomationDraft) {
			d.Triggers = []models.Trigger{{Platform: "time", At: "25:00"}}
		}, false, `trigger 1: time "25:00" is out of range`},
		{"bad sun event", func(d *models.AutomationDraft) { d.Triggers[0].Event = "noon" }, false, "trigger 1: sun trigger event must be sunrise or sunset"},
		{"state trigger without entity", func(d *models.AutomationDraft) {
			d.Triggers = []models.Trigger{{Platform: "state", To: "on"}}
		}, false, "trigger 1: state trigger needs an entity"},
		{"state condition without state", func(d *models.AutomationDraft) {
			d.Conditions = []models.Condition{{Condition: "state", EntityIDs: []string{"binary_sensor.porch_motion"}}}
		}, false, "condition 1: state condition needs a state"},
		{"malformed entity id", func(d *models.AutomationDraft) { d.Actions[0].EntityIDs = []string{"porch light"} }, false, `action 1: entity id "porch light" is malformed`},
		{"unresolved entity", func(d *models.AutomationDraft) { d.Actions[0].EntityIDs = []string{"light.attic"} }, true, "entity light.attic was not resolved against the inventory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(draft)

			report := CheckStructure(draft, tt.entities)
			assert.False(t, report.Valid)
			assert.Contains(t, report.Errors, tt.wantError)
			assert.Less(t, report.Score, 100)
		})
	}
}

func TestCheckStructure_EntityCheckIsOptional(t *testing.T) {
	draft := validDraft()
	draft.Actions[0].EntityIDs = []string{"light.attic"}

	assert.True(t, CheckStructure(draft, false).Valid)
	assert.False(t, CheckStructure(draft, true).Valid)
}

func TestCheckStructure_Warnings(t *testing.T) {
	draft := validDraft()
	draft.Mode = "burst"
	draft.Actions = append(draft.Actions, models.Action{Service: "light.turn_on", EntityIDs: []string{"switch.fan"}})
	draft.Entities = append(draft.Entities, models.ResolvedEntity{EntityID: "switch.fan"})

	report := CheckStructure(draft, true)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{
		`unknown mode "burst" replaced with "single"`,
		"action 2: service light.turn_on targets switch.fan from another domain",
	}, report.Warnings)
	assert.Equal(t, 90, report.Score)
	require.NotNil(t, report.FixedDraft)
	assert.Equal(t, models.ModeSingle, report.FixedDraft.Mode)
}

func TestCheckStructure_ScoreFloorsAtZero(t *testing.T) {
	report := CheckStructure(&models.AutomationDraft{
		Triggers:   []models.Trigger{{}},
		Conditions: []models.Condition{{}},
		Actions:    []models.Action{{Service: "bad"}},
	}, false)
	assert.False(t, report.Valid)
	assert.Len(t, report.Errors, 4)
	assert.Equal(t, 0, report.Score)
}

func TestLocalBackend_NeverFails(t *testing.T) {
	report, err := NewLocalBackend().Validate(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, []string{"draft is empty"}, report.Errors)
}

func TestCheckStructure_InjectedPayload(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		valid bool
	}{
		{name: "plain message", data: map[string]any{"message": "Porch light is on", "brightness": 80}, valid: true},
		{name: "sql in message", data: map[string]any{"message": "1' OR '1'='1"}},
		{name: "script in nested value", data: map[string]any{"data": map[string]any{"title": "<script>alert(1)</script>"}}},
		{name: "sql in list", data: map[string]any{"targets": []any{"ok", "'; DROP TABLE automations--"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			draft.Actions[0].Data = tt.data

			report := CheckStructure(draft, true)
			assert.Equal(t, tt.valid, report.Valid, report.Errors)
		})
	}
}
