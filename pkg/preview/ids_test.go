package preview

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAlias(t *testing.T) {
	tests := []struct {
		alias string
		want  string
	}{
		{"Porch Light Routine", "porch_light_routine"},
		{"  Café  Lights! ", "cafe_lights"},
		{"Ｌｉｖｉｎｇ Room", "living_room"},
		{"Über-Nacht/Modus", "uber_nacht_modus"},
		{"!!!", "automation"},
		{"", "automation"},
		{"a very long alias that keeps going well past the limit we allow", "a_very_long_alias_that_keeps_going_well_past_the"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAlias(tt.alias))
		})
	}
}

func TestNewAutomationID(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	id := NewAutomationID("Porch Light Routine", now)
	assert.Regexp(t, regexp.MustCompile(`^porch_light_routine_20261018T073000Z_[0-9a-f]{8}$`), id)
}

func TestNewAutomationID_SameAliasNeverCollides(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewAutomationID("Porch Light Routine", now)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
