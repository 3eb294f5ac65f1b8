package resolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMention(t *testing.T) {
	known := []string{"office closet", "living room", "office", "porch", "kitchen"}

	tests := []struct {
		name        string
		raw         string
		current     []string
		history     []string
		wantText    string
		wantOrdinal int
		wantArea    string
		wantCurrent bool
		wantDomain  string
	}{
		{"ordinal word", "the second office light", nil, nil, "office light", 2, "office", true, "light"},
		{"trailing number", "Office Light 2", nil, nil, "office light", 2, "office", true, "light"},
		{"numeric suffix", "my 3rd lamp", nil, nil, "lamp", 3, "", false, "light"},
		{"hash ordinal", "#4 fan", nil, nil, "fan", 4, "", false, "fan"},
		{"longest area wins", "the office closet light", nil, nil, "office closet light", 0, "office closet", true, "light"},
		{"multiword area", "living room lamp", nil, nil, "living room lamp", 0, "living room", true, "light"},
		{"current turn area", "lamp", []string{"Kitchen"}, []string{"porch"}, "lamp", 0, "kitchen", true, "light"},
		{"history area", "lamp", nil, []string{"office", "porch"}, "lamp", 0, "porch", false, "light"},
		{"possessive", "Bob's lamp", nil, nil, "bobs lamp", 0, "", false, "light"},
		{"only first ordinal taken", "first lamp 2", nil, nil, "lamp 2", 1, "", false, "light"},
		{"plural head noun", "the porch lights", nil, nil, "porch light", 0, "porch", true, "light"},
		{"plural cover", "Kitchen Blinds", nil, nil, "kitchen blind", 0, "kitchen", true, "cover"},
		{"lone number is not an ordinal", "2", nil, nil, "2", 0, "", false, ""},
		{"entity id passthrough", "light.office_2", nil, nil, "light.office_2", 0, "", false, "light"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ParseMention(tt.raw, MentionContext{
				CurrentTurnAreas: tt.current,
				HistoryAreas:     tt.history,
				KnownAreas:       known,
			})
			assert.Equal(t, tt.raw, m.Raw)
			assert.Equal(t, tt.wantText, m.Text)
			assert.Equal(t, tt.wantOrdinal, m.Ordinal)
			assert.Equal(t, tt.wantArea, m.AreaHint)
			assert.Equal(t, tt.wantCurrent, m.AreaFromCurrentTurn)
			assert.Equal(t, tt.wantDomain, m.DomainHint)
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "office light 2", NormalizeText("Office_Light-2!"))
	assert.Equal(t, "", NormalizeText("  ...  "))
}

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"light.office_2", "light.office_10", true},
		{"light.office_10", "light.office_2", false},
		{"light.a", "light.b", true},
		{"light.office", "light.office_1", true},
		{"x1", "x01", true},
		{"same", "same", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, naturalLess(tt.a, tt.b), "%s < %s", tt.a, tt.b)
	}
}
