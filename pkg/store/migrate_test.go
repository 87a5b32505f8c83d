package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySchema(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, applySchema(ctx, db))
	require.NoError(t, applySchema(ctx, db))

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestApplySchema_ClosedDatabase(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "stories.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = applySchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute schema")
	assert.NotEqual(t, err, errors.Cause(err))
	assert.Contains(t, errors.Cause(err).Error(), "database is closed")
}
