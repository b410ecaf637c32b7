package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflow/internal/config"
	"surveyflow/internal/engine"
)

func TestInitWorkspaceWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := InitWorkspace(dir, false)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.GenerateDefault(), string(data))

	_, err = InitWorkspace(dir, false)
	assert.Error(t, err)
	_, err = InitWorkspace(dir, true)
	assert.NoError(t, err)
}

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	s, err := Open(Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite", s.Config.Database.Driver)

	created, err := s.Engine.CreateSurvey(context.Background(), engine.SurveyCreateOptions{Title: "Smoke"})
	require.NoError(t, err)
	assert.Positive(t, created.ID)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("database:\n  driver: oracle\n"), 0o644))
	_, err := Open(Options{Workspace: dir})
	assert.Error(t, err)
}
