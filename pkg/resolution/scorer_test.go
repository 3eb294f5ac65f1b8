package resolution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/case-engine/pkg/models"
)

func TestExactScore(t *testing.T) {
	office2 := models.InventoryEntity{EntityID: "light.office_2", FriendlyName: "Office Light 2", Area: "Office", Domain: "light"}
	porch := models.InventoryEntity{EntityID: "light.porch", FriendlyName: "Porch Light", Area: "Porch", Domain: "light"}
	unnamed := models.InventoryEntity{EntityID: "switch.garage_fan", Area: "Garage", Domain: "switch"}
	mctx := MentionContext{KnownAreas: []string{"office", "porch", "garage"}}

	tests := []struct {
		raw    string
		entity models.InventoryEntity
		want   float64
	}{
		{"Office Light 2", office2, 1},
		{"the office light 2", office2, 1},
		{"light.office_2", office2, 1},
		{"LIGHT.OFFICE_2", office2, 1},
		{"office light", office2, 0},
		{"light", office2, 0},
		{"office", office2, 0},
		{"the second office light", office2, 0},
		{"office light 3", office2, 0},
		{"the porch lights", porch, 1},
		{"porch", porch, 0},
		{"garage fan", unnamed, 1},
		{"fan", unnamed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw+"/"+tt.entity.EntityID, func(t *testing.T) {
			got := exactScore(ParseMention(tt.raw, mctx), tt.entity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_ExactSignalIsBinary(t *testing.T) {
	svc := newTestService(t, homeInventory, nil)

	for _, mention := range []string{"office light", "light", "office", "Office Light 2", "the porch light", "porch", "front"} {
		res := resolveOne(t, svc, Request{Mentions: []string{mention}})
		require.NotEmpty(t, res.Candidates, mention)
		for _, c := range res.Candidates {
			assert.Contains(t, []float64{0, 1}, c.Signals.Exact, "%s -> %s", mention, c.EntityID)
		}
	}

	res := resolveOne(t, svc, Request{Mentions: []string{"Office Light 2"}})
	require.True(t, res.Resolved)
	assert.Equal(t, "light.office_2", res.Best().EntityID)
	assert.Equal(t, 1.0, res.Best().Signals.Exact)
}

func TestResolve_GenericMentionsGetNoExactCredit(t *testing.T) {
	svc := newTestService(t, homeInventory, nil)

	result, err := svc.Resolve(context.Background(), Request{Mentions: []string{"light", "office"}})
	require.NoError(t, err)
	for _, res := range result.Resolutions {
		for _, c := range res.Candidates {
			assert.Zero(t, c.Signals.Exact, "%s -> %s", res.Mention.Raw, c.EntityID)
		}
	}
}
