package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fb2kstat/database"
)

func openTemp(t *testing.T) *database.DatabaseManager {
	t.Helper()
	dm, err := database.Open("sqlite:///"+filepath.Join(t.TempDir(), "stats.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	return dm
}

func resetFlags(t *testing.T) {
	t.Helper()
	*up, *down, *validate, *status, *vacuum = true, -1, false, false, false
	t.Cleanup(func() { *up, *down, *validate, *status, *vacuum = true, -1, false, false, false })
}

func TestRunMigratesUpAndDown(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dm := openTemp(t)

	*vacuum = true
	require.NoError(t, run(ctx, dm))
	v, err := dm.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.SchemaVersion, v)

	*vacuum = false
	*down = 1
	require.NoError(t, run(ctx, dm))
	v, err = dm.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRunStatusLeavesSchemaAlone(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dm := openTemp(t)

	*status = true
	require.NoError(t, run(ctx, dm))
	v, err := dm.GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestValidate(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dm := openTemp(t)

	*validate = true
	assert.Error(t, run(ctx, dm), "an empty schema is reported")

	require.NoError(t, dm.MigrateUp(ctx))
	assert.NoError(t, run(ctx, dm))
}
