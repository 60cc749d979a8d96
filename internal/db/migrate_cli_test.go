package db

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrateCommand_UpStatusDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
	assert.Contains(t, out.String(), "1 version(s) behind")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 0")
}

func TestRunMigrateCommand_Force(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"force", "1"}, path, &out))
	assert.Contains(t, out.String(), "forced to 1")

	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "one"}, path, &out))
}

func TestRunMigrateCommand_Usage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.db")

	var out bytes.Buffer
	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Contains(t, out.String(), "Database Migration Commands")

	out.Reset()
	assert.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "force <N>")

	out.Reset()
	err := RunMigrateCommand([]string{"sideways"}, path, &out)
	assert.ErrorContains(t, err, "unknown migrate action: sideways")
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}
