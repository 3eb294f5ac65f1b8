package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/apperrors"
	"github.com/ekaya-inc/case-engine/pkg/models"
)

func porchDraft() *models.AutomationDraft {
	return &models.AutomationDraft{
		ID:       uuid.New(),
		Alias:    "Porch Light Routine",
		Mode:     models.ModeSingle,
		Triggers: []models.Trigger{{Platform: models.PlatformSun, Event: "sunset"}},
		Actions:  []models.Action{{Service: "light.turn_on", EntityIDs: []string{"light.porch"}}},
	}
}

// sequenceMinter returns ids from a fixed list, then falls back to DefaultMinter.
func sequenceMinter(ids ...string) Minter {
	i := 0
	return func(alias string, now time.Time) string {
		if i < len(ids) {
			i++
			return ids[i-1]
		}
		return DefaultMinter(alias, now)
	}
}

func TestMemoryRegistry_PorchLightRoutine(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil, zap.NewNop())

	first, err := reg.Create(ctx, porchDraft(), true, "")
	require.NoError(t, err)
	second, err := reg.Create(ctx, porchDraft(), true, "")
	require.NoError(t, err)

	assert.NotEqual(t, first.AutomationID, second.AutomationID, "same alias never collides")
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 1, second.Version)

	updated := porchDraft()
	updated.Actions[0].Data = map[string]any{"brightness_pct": 60}
	redeployed, err := reg.Create(ctx, updated, false, first.AutomationID)
	require.NoError(t, err)
	assert.Equal(t, first.AutomationID, redeployed.AutomationID)
	assert.Equal(t, 2, redeployed.Version)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := reg.Get(ctx, first.AutomationID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, updated.ID, got.DraftID)
	assert.Equal(t, []string{"light.porch"}, got.EntityIDs)
	assert.Equal(t, 60, got.Draft.Actions[0].Data["brightness_pct"])
}

func TestMemoryRegistry_ForceNewMintsPastCollisions(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(sequenceMinter("taken", "fresh"), zap.NewNop())

	_, err := reg.Create(ctx, porchDraft(), true, "taken")
	require.NoError(t, err)

	res, err := reg.Create(ctx, porchDraft(), true, "taken")
	require.NoError(t, err)
	// "taken" collides twice (the candidate and the first mint); "fresh" is free.
	assert.Equal(t, "fresh", res.AutomationID)
}

func TestMemoryRegistry_GivesUpAfterRepeatedCollisions(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(func(string, time.Time) string { return "stuck" }, zap.NewNop())

	_, err := reg.Create(ctx, porchDraft(), true, "")
	require.NoError(t, err)

	_, err = reg.Create(ctx, porchDraft(), true, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRegistryWriteFailed))
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestMemoryRegistry_RedeployErrors(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil, zap.NewNop())

	tests := []struct {
		name       string
		existingID string
		draft      *models.AutomationDraft
	}{
		{"missing id", "", porchDraft()},
		{"unknown id", "porch_light_routine_20261018T090000Z_00000000", porchDraft()},
		{"nil draft", "anything", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, tt.draft, false, tt.existingID)
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindRegistryWriteFailed), err.Error())
		})
	}

	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "failed redeploys never create")
}

func TestMemoryRegistry_CancelledContext(t *testing.T) {
	reg := NewMemoryRegistry(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Create(ctx, porchDraft(), true, "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindRegistryWriteFailed))
}

func TestMemoryRegistry_GetNotFound(t *testing.T) {
	reg := NewMemoryRegistry(nil, zap.NewNop())
	_, err := reg.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestMemoryRegistry_ListIsOrderedAndDetached(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil, zap.NewNop())
	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	var ids []string
	for i := 0; i < 3; i++ {
		d := porchDraft()
		d.Alias = fmt.Sprintf("Routine %d", i)
		res, err := reg.Create(ctx, d, true, "")
		require.NoError(t, err)
		ids = append(ids, res.AutomationID)
	}

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, a := range all {
		assert.Equal(t, ids[i], a.AutomationID)
	}

	all[0].Draft.Alias = "mutated"
	got, err := reg.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Routine 0", got.Draft.Alias)
}
