package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()

	var fk int
	require.NoError(t, conn.Get(&fk, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, fk)
	assert.Equal(t, "SELECT 1 WHERE a=?", conn.Rebind("SELECT 1 WHERE a=?"))

	_, err = os.Stat(filepath.Join(dir, workspaceDir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".surveyflow", "surveyflow.db"), Path(dir))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.Error(t, err)
	_, err = Open(Config{Driver: DriverPostgres})
	assert.Error(t, err)
}
