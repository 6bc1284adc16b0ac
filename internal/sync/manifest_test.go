package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kb"), 0o755))
	path := writeManifest(t, dir, `
defaults:
  extensions: [".md", ".txt"]
scopes:
  tenant-a:
    path: kb
  tenant-b:
    path: /srv/kb/tenant-b
    prefix: docs/
    extensions: [".md"]
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Scopes, 2)

	// Relative paths anchor to the manifest directory.
	assert.Equal(t, filepath.Join(dir, "kb"), m.Scopes["tenant-a"].Path)
	assert.Equal(t, "/srv/kb/tenant-b", m.Scopes["tenant-b"].Path)
	assert.Equal(t, "docs/", m.Scopes["tenant-b"].Prefix)
	assert.Equal(t, []string{".md", ".txt"}, m.Defaults.Extensions)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigNotFound, apperrors.GetCode(err))
}

func TestLoadManifestRejectsBadContent(t *testing.T) {
	dir := t.TempDir()

	for name, body := range map[string]string{
		"not yaml":    "{{{",
		"no scopes":   "defaults:\n  extensions: [\".md\"]\n",
		"scope without path": "scopes:\n  tenant-a:\n    prefix: docs/\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadManifest(writeManifest(t, dir, body))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
		})
	}
}

func TestManifestSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kb"), 0o755))
	writeFile(t, dir, "kb/doc.md", "markdown survives the default filter")
	writeFile(t, dir, "kb/doc.adoc", "asciidoc does not")

	m := &Manifest{
		Defaults: ManifestDefaults{Extensions: []string{".md"}},
		Scopes:   map[string]ScopeSpec{"kb": {Path: filepath.Join(dir, "kb")}},
	}

	sources, err := m.Sources()
	require.NoError(t, err)
	require.Contains(t, sources, "kb")

	objects, err := sources["kb"].List(t.Context())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "doc.md", objects[0].Key)
}

func TestManifestSourcesMissingDirectory(t *testing.T) {
	m := &Manifest{
		Scopes: map[string]ScopeSpec{"kb": {Path: filepath.Join(t.TempDir(), "nope")}},
	}
	_, err := m.Sources()
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSourceMissing, apperrors.GetCode(err))
}
