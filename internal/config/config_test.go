package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 2000, cfg.Chunking.TargetSize)
	assert.Equal(t, 2300, cfg.Chunking.MaxSize)
	assert.Equal(t, 300, cfg.Chunking.MinSize)

	assert.InDelta(t, 0.5, cfg.Search.LexWeight, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.VecWeight, 1e-9)
	assert.Equal(t, 60, cfg.Search.RankOffset)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "sqlite", cfg.Search.LexicalBackend)

	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
	assert.Equal(t, time.Hour, cfg.Sync.PurgeGrace)

	require.NoError(t, cfg.Validate())
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `
chunking:
  target_size: 1500
search:
  lex_weight: 0.7
  vec_weight: 0.3
  max_results: 10
embeddings:
  provider: static
sync:
  purge_grace: 30m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".clementine.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 1500, cfg.Chunking.TargetSize)
	assert.Equal(t, 2300, cfg.Chunking.MaxSize, "unset fields keep defaults")
	assert.InDelta(t, 0.7, cfg.Search.LexWeight, 1e-9)
	assert.Equal(t, 10, cfg.Search.MaxResults)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 30*time.Minute, cfg.Sync.PurgeGrace)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := `
search:
  lex_weight: 0.7
  vec_weight: 0.3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".clementine.yaml"), []byte(content), 0o644))

	t.Setenv("CLEMENTINE_LEX_WEIGHT", "0.2")
	t.Setenv("CLEMENTINE_VEC_WEIGHT", "0.8")
	t.Setenv("CLEMENTINE_RANK_OFFSET", "30")
	t.Setenv("CLEMENTINE_SYNC_WORKERS", "2")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, cfg.Search.LexWeight, 1e-9)
	assert.InDelta(t, 0.8, cfg.Search.VecWeight, 1e-9)
	assert.Equal(t, 30, cfg.Search.RankOffset)
	assert.Equal(t, 2, cfg.Sync.Workers)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Chunking.TargetSize)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".clementine.yaml"), []byte("search: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate_WeightSum(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.LexWeight = 0.9
	cfg.Search.VecWeight = 0.3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must equal 1.0")
}

func TestValidate_ChunkingBounds(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunking.MaxSize = 1000 // below target

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_size")
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Provider = "mystery"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.provider")
}

func TestValidate_UnknownLexicalBackend(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.LexicalBackend = "lucene"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lexical_backend")
}

func TestWriteYAML_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewConfig()
	cfg.Search.MaxResults = 7
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 7, loaded.Search.MaxResults)
}

func TestBackupUserConfig_NoConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupAndRestoreUserConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	require.NoError(t, os.WriteFile(GetUserConfigPath(), []byte("version: 1\n"), 0o644))

	backup, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	require.NoError(t, os.WriteFile(GetUserConfigPath(), []byte("version: 2\n"), 0o644))
	require.NoError(t, RestoreUserConfig(backup))

	data, err := os.ReadFile(GetUserConfigPath())
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}
