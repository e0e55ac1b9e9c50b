package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 60, cfg.MaxLines)
	assert.Equal(t, 10, cfg.MinLines)
	assert.Equal(t, 10, cfg.Limit)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, IndexDirName, cfg.Store.IndexDir)
	assert.Equal(t, 32, cfg.Store.M)
	assert.Equal(t, 128, cfg.Store.EfConstruction)
	assert.Equal(t, 64, cfg.Store.EfSearch)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "max_lines: 120\nlimit: 25\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codesearch.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.MaxLines)
	assert.Equal(t, 25, cfg.Limit)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.MinLines)
}

func TestLoad_EnvOverridesProjectConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codesearch.yaml"), []byte("limit: 25\n"), 0o644))
	t.Setenv("CODE_SEARCH_LIMIT", "99")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 99, cfg.Limit)
}

func TestLoad_NoConfigFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.MaxLines)
}

func TestFindProjectRoot_FindsGitDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRoot_FindsProjectConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".codesearch.yaml"), []byte("version: 1\n"), 0o644))
	nested := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFindProjectRoot_FallsBackToStartDir(t *testing.T) {
	dir := t.TempDir()
	found, err := FindProjectRoot(dir)
	require.NoError(t, err)
	abs, _ := filepath.Abs(dir)
	assert.Equal(t, abs, found)
}
