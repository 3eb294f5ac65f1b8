//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTestDB_MigrationsApplied(t *testing.T) {
	testDB := GetTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"automations", "inventory_entities"} {
		var exists bool
		err := testDB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s", table)
	}
}

func TestTestDB_MigrationsAreIdempotent(t *testing.T) {
	testDB := GetTestDB(t)
	require.NoError(t, testDB.DB.Migrate(MigrationsPath(), zap.NewNop()))
}
