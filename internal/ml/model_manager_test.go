package ml

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-insight/internal/errs"
)

func TestModelManager_AddAndActivate(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(filepath.Join(dir, "models"))
	require.NoError(t, err)

	_, ok := mm.CurrentVersion()
	assert.False(t, ok)

	v1, err := mm.AddVersion(writeArtifact(t, dir, "v1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", v1.Version)
	assert.Equal(t, 3120, v1.Metrics.TrainingRows)
	assert.False(t, v1.TrainedAt.IsZero())

	_, err = mm.AddVersion(writeArtifact(t, dir, "v2"))
	require.NoError(t, err)

	versions := mm.ListVersions()
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[0].Version, "newest first")

	found, ok := mm.Version("v1")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "v1.json"), found.Path)
	_, ok = mm.Version("v0")
	assert.False(t, ok)

	active, err := mm.ActivateVersion("v2")
	require.NoError(t, err)
	assert.True(t, active.IsActive)

	current, ok := mm.CurrentVersion()
	require.True(t, ok)
	assert.Equal(t, "v2", current.Version)

	_, err = mm.ActivateVersion("v9")
	assert.Error(t, err)
}

func TestModelManager_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)

	path := writeArtifact(t, dir, "v1")
	_, err = mm.AddVersion(path)
	require.NoError(t, err)
	_, err = mm.AddVersion(path)
	assert.ErrorContains(t, err, "already registered")
	assert.Len(t, mm.ListVersions(), 1)
}

func TestModelManager_InvalidArtifact(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"format_version": 2}`), 0o600))

	_, err = mm.AddVersion(bad)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Empty(t, mm.ListVersions())
}

func TestModelManager_Rollback(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)

	_, err = mm.Rollback()
	assert.Error(t, err, "nothing registered")

	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := mm.AddVersion(writeArtifact(t, dir, v))
		require.NoError(t, err)
	}

	_, err = mm.Rollback()
	assert.ErrorContains(t, err, "no active version")

	_, err = mm.ActivateVersion("v3")
	require.NoError(t, err)

	prev, err := mm.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "v2", prev.Version)

	prev, err = mm.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "v1", prev.Version)

	_, err = mm.Rollback()
	assert.ErrorContains(t, err, "no previous version")
}

func TestModelManager_Persistence(t *testing.T) {
	dir := t.TempDir()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)

	_, err = mm.AddVersion(writeArtifact(t, dir, "v1"))
	require.NoError(t, err)
	_, err = mm.ActivateVersion("v1")
	require.NoError(t, err)

	reopened, err := NewModelManager(dir)
	require.NoError(t, err)
	current, ok := reopened.CurrentVersion()
	require.True(t, ok)
	assert.Equal(t, "v1", current.Version)
	assert.Equal(t, filepath.Join(dir, "v1.json"), current.Path)
}

func TestModelManager_CorruptRegistryStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_versions.json"), []byte("not json"), 0o600))

	mm, err := NewModelManager(dir)
	require.NoError(t, err)
	assert.Empty(t, mm.ListVersions())
}
