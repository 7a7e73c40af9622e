package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMigrationDir_WalksUp(t *testing.T) {
	root := t.TempDir()
	migrations := filepath.Join(root, "db", "migrations")
	require.NoError(t, os.MkdirAll(migrations, 0o755))
	nested := filepath.Join(root, "cmd", "api")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, migrations, findMigrationDir(nested))
	assert.Equal(t, migrations, findMigrationDir(root))
}

func TestFindMigrationDir_FallsBackToRelative(t *testing.T) {
	assert.Equal(t, filepath.Join("db", "migrations"), findMigrationDir(t.TempDir()))
}

func TestFindMigrationDir_FindsRepositoryMigrations(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := findMigrationDir(wd)
	_, err = os.Stat(filepath.Join(dir, "000001_session_security.up.sql"))
	assert.NoError(t, err)
}
